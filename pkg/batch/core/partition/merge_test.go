package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

func TestMergeSorted(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	op := func(partition int64, offset time.Duration, id string) *model.Operation {
		return &model.Operation{ID: id, Partition: partition, CreatedAt: at.Add(offset)}
	}

	lists := [][]*model.Operation{
		{op(2, 0, "c"), op(2, time.Second, "d")},
		nil,
		{op(1, 0, "a"), op(1, 0, "b"), op(1, time.Hour, "e")},
	}
	got := mergeSorted(lists, 10)
	ids := make([]string, len(got))
	for i, o := range got {
		ids[i] = o.ID
	}
	assert.Equal(t, []string{"a", "b", "e", "c", "d"}, ids)

	assert.Len(t, mergeSorted(lists, 2), 2)
	assert.Empty(t, mergeSorted(nil, 5))
}
