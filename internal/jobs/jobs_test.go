package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	n     int64
	err   error
	calls int
}

func (f *fakePurger) Purge(ctx context.Context) (int64, error) {
	f.calls++
	return f.n, f.err
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, err := Start(zerolog.Nop(), "every now and then", &fakePurger{})
	assert.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	c, err := Start(zerolog.Nop(), "@every 1h", &fakePurger{})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}

func TestPurgeJobLogs(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	p := &fakePurger{n: 3}
	PurgeJob(log, p)()
	assert.Equal(t, 1, p.calls)
	assert.Contains(t, buf.String(), `"purged":3`)

	buf.Reset()
	PurgeJob(log, &fakePurger{err: errors.New("db gone")})()
	assert.Contains(t, buf.String(), "db gone")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
