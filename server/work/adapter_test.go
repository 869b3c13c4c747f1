package work

import (
	"bytes"
	"testing"
	"time"

	"github.com/campuskit/sentinel/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerform(t *testing.T) {
	models.InitializeTestDb()

	workerPool := NewWorkerAdapter("UTC")
	outputBuffer := new(bytes.Buffer)

	// Register job function
	writeToBuffer := func(m map[string]interface{}) error {
		_, err := outputBuffer.WriteString("Hello")
		return err
	}
	require.Nil(t, workerPool.Register("write_to_buffer", writeToBuffer))

	jobParams := JobParams{
		Name:    "write_to_buffer",
		Handler: "write_to_buffer",
		Args:    map[string]interface{}{},
	}

	err := workerPool.Perform(jobParams)
	assert.Nil(t, err)

	// A second enqueue of the same queued job is dropped quietly
	err = workerPool.Perform(jobParams)
	assert.Nil(t, err)

	workerPool.Start()

	// Wait for job to be processed
	time.Sleep(2 * time.Second)

	workerPool.Stop()

	assert.Equal(t, "Hello", outputBuffer.String(), "Expected job to write to outputBuffer exactly once")

	job, err := models.LastJob(models.SUCCESSFUL_JOB, false)
	require.Nil(t, err)
	assert.Equal(t, "write_to_buffer", job.Name)
}

func TestRegister(t *testing.T) {
	models.InitializeTestDb()

	workerPool := NewWorkerAdapter("UTC")
	noop := func(m map[string]interface{}) error { return nil }

	require.Nil(t, workerPool.Register("noop", noop))
	assert.ErrorIs(t, workerPool.Register("noop", noop), ErrDuplicateHandler)
}
