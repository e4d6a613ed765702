package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_StepsSortedByOrderThenName(t *testing.T) {
	def, err := NewBuilder[bookingData]("trip_booking").
		AddStep(&FuncStep[bookingData]{StepName: "charlie", StepOrder: 2}).
		AddStep(&FuncStep[bookingData]{StepName: "bravo", StepOrder: 1}).
		AddStep(&FuncStep[bookingData]{StepName: "alpha", StepOrder: 2}).
		Build()
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, s := range def.Steps() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"bravo", "alpha", "charlie"}, names)
}

func TestBuilder_RegistrationSequenceWhenOrderUnset(t *testing.T) {
	def, err := NewBuilder[bookingData]("trip_booking").
		AddStep(&FuncStep[bookingData]{StepName: "first"}).
		AddStep(&FuncStep[bookingData]{StepName: "second"}).
		AddStep(&FuncStep[bookingData]{StepName: "third"}).
		Build()
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, s := range def.Steps() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func TestBuilder_AddStepWithOrderOverrides(t *testing.T) {
	def, err := NewBuilder[bookingData]("trip_booking").
		AddStep(&FuncStep[bookingData]{StepName: "late"}).
		AddStepWithOrder(&FuncStep[bookingData]{StepName: "early"}, -10).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "early", def.Steps()[0].Name())
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (*Definition[bookingData], error)
		wantErr string
	}{
		{
			name: "missing name",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("").
					AddStep(&FuncStep[bookingData]{StepName: "a"}).
					Build()
			},
			wantErr: "name is required",
		},
		{
			name: "no steps",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("trip_booking").Build()
			},
			wantErr: "at least one step",
		},
		{
			name: "duplicate step names",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("trip_booking").
					AddStep(&FuncStep[bookingData]{StepName: "a"}).
					AddStep(&FuncStep[bookingData]{StepName: "a"}).
					Build()
			},
			wantErr: "duplicate step name",
		},
		{
			name: "unnamed step",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("trip_booking").
					AddStep(&FuncStep[bookingData]{}).
					Build()
			},
			wantErr: "has no name",
		},
		{
			name: "negative max retries",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("trip_booking").
					AddStep(&FuncStep[bookingData]{StepName: "a"}).
					MaxRetries(-1).
					Build()
			},
			wantErr: "must not be negative",
		},
		{
			name: "zero retry base",
			build: func() (*Definition[bookingData], error) {
				return NewBuilder[bookingData]("trip_booking").
					AddStep(&FuncStep[bookingData]{StepName: "a"}).
					RetryBase(0).
					Build()
			},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, def)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuilder_DefaultsApplied(t *testing.T) {
	def, err := NewBuilder[bookingData]("trip_booking").
		AddStep(&FuncStep[bookingData]{StepName: "a"}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "trip_booking", def.Name())
	assert.Equal(t, DefaultMaxRetries, def.maxRetries)
	assert.Equal(t, DefaultRetryBase, def.retryBase)
	assert.Zero(t, def.timeout)
	assert.False(t, def.compensateOnCancel)
}
