//go:build integration

package settings

import (
	"context"
	"testing"

	"github.com/musebar/legaljournal/internal/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresProvider_seededDefaultsAndSave(t *testing.T) {
	ctx := context.Background()
	p := NewPostgresProvider(dbtest.New(t))

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)

	next := got
	next.DailyClosureTime = "03:15"
	next.GracePeriodMinutes = 45
	next.AutoClosureEnabled = false
	require.NoError(t, p.Save(ctx, next))

	got, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	bad := next
	bad.Timezone = "Mars/Olympus"
	require.ErrorIs(t, p.Save(ctx, bad), ErrInvalid)
}
