package commands

import (
	"context"
	"dgtscraper/internal/components/configutil"
	"dgtscraper/internal/scrapers/dgt"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakySource struct {
	errs  []error
	calls int
}

func (f *flakySource) Establish(context.Context, dgt.Query) (io.ReadCloser, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return io.NopCloser(strings.NewReader("PK")), nil
}

func TestRetryingSource(t *testing.T) {
	policy := RetryConfig{MaxAttempts: 3, InitialIntervalMs: 1}
	q := dgt.Query{Year: 2024, Month: time.January}
	transportErr := &dgt.TransportError{Step: "landing", StatusCode: 502}

	table := []struct {
		name    string
		errs    []error
		calls   int
		wantErr bool
	}{
		{name: "recovers", errs: []error{transportErr, transportErr}, calls: 3},
		{name: "gives up", errs: []error{transportErr, transportErr, transportErr}, calls: 3, wantErr: true},
		{name: "domain errors are final", errs: []error{&dgt.DomainError{Message: "No existen datos"}}, calls: 1, wantErr: true},
		{name: "protocol errors are final", errs: []error{&dgt.ProtocolError{Step: "landing", Reason: "x"}}, calls: 1, wantErr: true},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			inner := &flakySource{errs: row.errs}
			body, err := newRetryingSource(inner, policy).Establish(context.Background(), q)
			require.Equal(t, row.calls, inner.calls)
			if row.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, row.errs[len(row.errs)-1]))
				return
			}
			require.NoError(t, err)
			body.Close()
		})
	}
}

func TestConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dgtscraper.json5")
	err := os.WriteFile(path, []byte(`{
		// pace the portal harder
		requests_per_second: 0.5,
		store: { driver: "postgres", dsn: "postgres://localhost/dgt" },
	}`), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "dgtscraper.local.json5"), []byte(`{ retries: { max_attempts: 5 } }`), 0o644)
	require.NoError(t, err)

	config, err := configutil.ReadConfig(path, defaultConfig())
	require.NoError(t, err)

	require.Equal(t, dgt.DefaultBaseUrl, config.BaseUrl)
	require.Equal(t, 0.5, config.RequestsPerSecond)
	require.Equal(t, "postgres", config.Store.Driver)
	require.Equal(t, "postgres://localhost/dgt", config.Store.Dsn)
	require.Equal(t, 1000, config.Store.BatchSize)
	require.Equal(t, 5, config.Retries.MaxAttempts)
	require.Equal(t, 2000, config.Retries.InitialIntervalMs)
}
