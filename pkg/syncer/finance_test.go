package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

func insertedRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"inserted"}).AddRow(true)
}

func TestGoldPricePerGram(t *testing.T) {
	// 0.0005 XAU per USD means 2000 USD per ounce.
	perGram, err := goldPricePerGram(goldRatesResponse{
		Success: true,
		Rates:   map[string]float64{"XAU": 0.0005},
	})
	require.NoError(t, err)
	assert.InDelta(t, 2000.0/gramsPerTroyOunce, perGram, 1e-9)
}

func TestGoldPricePerGramRejectsMissingRate(t *testing.T) {
	_, err := goldPricePerGram(goldRatesResponse{Success: true})
	assert.Error(t, err)

	_, err = goldPricePerGram(goldRatesResponse{Rates: map[string]float64{"XAU": 0}})
	assert.Error(t, err)
}

func TestFinanceSyncWritesAllCarats(t *testing.T) {
	engine, mock := newTestEngine(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "MYR", r.URL.Query().Get("base"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"base":"MYR","rates":{"XAU":0.0005}}`))
	}))
	defer srv.Close()

	expectStart(mock)
	for range caratPurity {
		mock.ExpectQuery(`INSERT INTO gold_prices`).WillReturnRows(insertedRow())
	}
	expectFinish(mock, store.StatusSuccess)

	s := NewFinanceSyncer(engine, upstream.New("metalprice"), srv.URL, "myr")
	res, err := s.Sync(context.Background(), Options{Force: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, len(caratPurity), res.RecordsProcessed)
	assert.Equal(t, len(caratPurity), res.RecordsInserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinanceSyncFailsOnUpstreamError(t *testing.T) {
	engine, mock := newTestEngine(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exhausted", http.StatusForbidden)
	}))
	defer srv.Close()

	expectStart(mock)
	expectFinish(mock, store.StatusFailed)

	s := NewFinanceSyncer(engine, upstream.New("metalprice"), srv.URL, "USD")
	res, err := s.Sync(context.Background(), Options{Force: true})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.RecordsFailed)
	assert.NotEmpty(t, res.Errors)
}

func TestFinanceSyncDryRunWritesNothing(t *testing.T) {
	engine, mock := newTestEngine(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"rates":{"XAU":0.0005}}`))
	}))
	defer srv.Close()

	expectStart(mock)
	expectFinish(mock, store.StatusSuccess)

	s := NewFinanceSyncer(engine, upstream.New("metalprice"), srv.URL, "USD")
	res, err := s.Sync(context.Background(), Options{Force: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, len(caratPurity), res.RecordsProcessed)
	assert.Zero(t, res.RecordsInserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
