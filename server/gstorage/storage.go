package gstorage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

var ErrObjectNotExist = storage.ErrObjectNotExist

const transferTimeout = 50 * time.Second

type GStorage struct {
	storageClient *storage.Client
}

func NewGStorage(credentialsFilePath string) (*GStorage, error) {
	var client *storage.Client
	var err error

	if credentialsFilePath != "" {
		client, err = storage.NewClient(context.Background(), option.WithCredentialsFile(credentialsFilePath))
	} else {
		client, err = storage.NewClient(context.Background())
	}

	if err != nil {
		return nil, errors.Wrap(err, "NewGStorage")
	}

	return &GStorage{storageClient: client}, nil
}

// UploadFile uploads the file at 'filePath' as an object named
// '<prefix>/<file name>' in the given bucket.
func (gs *GStorage) UploadFile(bucket, prefix, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "os.Open")
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()

	objectName := objectName(prefix, filepath.Base(filePath))
	wc := gs.storageClient.Bucket(bucket).Object(objectName).NewWriter(ctx)
	if _, err = io.Copy(wc, f); err != nil {
		return errors.Wrap(err, "io.Copy")
	}
	if err := wc.Close(); err != nil {
		return errors.Wrap(err, "Writer.Close")
	}

	return nil
}

// DownloadFile downloads an object to a local file.
func (gs *GStorage) DownloadFile(bucket, prefix, object string, destFileName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()

	f, err := os.Create(destFileName)
	if err != nil {
		return errors.Wrap(err, "os.Create")
	}

	rc, err := gs.storageClient.Bucket(bucket).Object(objectName(prefix, object)).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return errors.Wrapf(err, "Object(%q).NewReader", object)
	}
	defer rc.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return errors.Wrap(err, "io.Copy")
	}

	if err = f.Close(); err != nil {
		return errors.Wrap(err, "f.Close")
	}

	return nil
}

func objectName(prefix, fileName string) string {
	if prefix == "" {
		return fileName
	}

	return prefix + "/" + fileName
}
