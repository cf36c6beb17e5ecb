package configuration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictOptionsValidate(t *testing.T) {
	t.Parallel()

	valid := ConflictOptions{Strategy: "merge", AutoMergeScore: 80, ManualReviewScore: 50}
	require.NoError(t, valid.Validate())

	badStrategy := valid
	badStrategy.Strategy = "ask-ops"
	assert.Error(t, badStrategy.Validate())

	inverted := valid
	inverted.AutoMergeScore = 40
	assert.Error(t, inverted.Validate(), "auto-merge threshold below the review floor is a misconfiguration")
}

func TestLoadOptionsValidate(t *testing.T) {
	t.Parallel()

	valid := LoadOptions{CreateWorkers: 8, CheckpointInterval: 50, BatchSize: 500}
	require.NoError(t, valid.Validate())

	zeroInterval := valid
	zeroInterval.CheckpointInterval = 0
	assert.NoError(t, zeroInterval.Validate(), "interval 0 is valid and disables mid-plan checkpoints")

	noWorkers := valid
	noWorkers.CreateWorkers = 0
	assert.Error(t, noWorkers.Validate())

	negative := valid
	negative.CheckpointInterval = -1
	assert.Error(t, negative.Validate())
}

func TestDatabaseConnectionString(t *testing.T) {
	t.Parallel()

	d := DatabaseOptions{Name: "cutover", Host: "db", Port: "5433", User: "svc", Password: "secret"}
	assert.Equal(t, "host=db port=5433 user=svc dbname=cutover password=secret sslmode=disable", d.ConnectionString())
}
