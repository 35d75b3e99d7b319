package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestTimelineRepository_AppendKeepsChronology(t *testing.T) {
	ctx := context.Background()
	repo := NewTimelineRepository()
	base := time.Now().UTC()

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.EventOrderAmended, Occurred: base.Add(time.Second)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.EventOrderCreated, Occurred: base}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o2", Type: domain.EventOrderCreated}))

	events, err := repo.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.Equal(t, domain.EventOrderAmended, events[1].Type)

	other, err := repo.List(ctx, "o2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.False(t, other[0].Occurred.IsZero())
}
