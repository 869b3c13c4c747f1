package server

import (
	"errors"
	"os"

	"github.com/campuskit/sentinel/server/gstorage"
	"github.com/campuskit/sentinel/server/models"
	"github.com/campuskit/sentinel/server/work"
	"github.com/campuskit/sentinel/utils"
)

const backupDbJobName = "backup_sqlite_db"

// backupSqliteDb uploads the encrypted sqlite db file to cloud storage.
// Runs on a schedule & once more on shutdown.
func backupSqliteDb(map[string]interface{}) error {
	logg.Infof("Backing up %v to gs://%v/%v", models.DB_NAME, storageConfig.Bucket, storageConfig.Prefix)

	return gStorageClient.UploadFile(storageConfig.Bucket, storageConfig.Prefix, dbFilePath)
}

// restoreSqliteDbIfMissing pulls the last db backup from cloud storage when
// no local db file exists yet. A missing remote object just means this is
// the first boot.
func restoreSqliteDbIfMissing() {
	if utils.FileExist(dbFilePath) {
		return
	}

	err := gStorageClient.DownloadFile(storageConfig.Bucket, storageConfig.Prefix, models.DB_NAME, dbFilePath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		logg.Infof("No remote db backup found, starting with a fresh db")
		os.Remove(dbFilePath)
		return
	}
	fatalOnError(err)

	logg.Infof("Restored %v from gs://%v/%v", models.DB_NAME, storageConfig.Bucket, storageConfig.Prefix)
}

func registerJobHandlers(workerPool *work.WorkerPoolAdapter) {
	fatalOnError(workerPool.Register(backupDbJobName, backupSqliteDb))
}

func enqueueJobs(workerPool *work.WorkerPoolAdapter, backupSchedule string) {
	fatalOnError(workerPool.PeriodicallyPerform(backupSchedule, work.JobParams{
		Name:    backupDbJobName,
		Handler: backupDbJobName,
		Args:    map[string]interface{}{},
	}))
}
