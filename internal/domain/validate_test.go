package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateModule_RequiresNameAndHash(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateModule(&Module{}))
	assert.NoError(t, ValidateModule(&Module{ID: 1, Hash: "h", Name: "m"}))
}

func TestValidateWorkflow_RequiresCronListAndShiftUnit(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateWorkflow(&Workflow{Name: "w"}))
	assert.Error(t, ValidateWorkflow(&Workflow{
		Name: "w", ExecuteCronList: []string{"* * * * *"}, ExecuteShiftUnit: "bogus",
	}))
	assert.NoError(t, ValidateWorkflow(&Workflow{
		Name: "w", ExecuteCronList: []string{"* * * * *"}, ExecuteShiftUnit: ShiftMinutes,
	}))
}
