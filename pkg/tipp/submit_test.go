package tipp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmitConfig() SubmitConfig {
	return SubmitConfig{Retries: 1, Pause: 0}
}

func loadPage(t *testing.T, r *fakeRemote, ex *FormExtractor) *Page {
	t.Helper()
	doc, err := r.Load(context.Background(), r.matchday)
	require.NoError(t, err)
	page, err := ex.ParsePage(doc.HTML, doc.URL, r.matchday)
	require.NoError(t, err, "Failed to parse fake page")
	return page
}

func TestSubmitConfirmsFirstAttempt(t *testing.T) {
	remote := newFakeRemote(1, bundesligaFixtures())
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 9, report.Total)
	assert.Equal(t, 9, report.Confirmed)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 9, report.Writes)
	assert.Empty(t, report.Mismatches)
	assert.NoError(t, report.Err())

	require.Equal(t, 1, remote.sendCount())
	sent := remote.sends[0]
	assert.Equal(t, "POST", sent.Method)
	assert.Equal(t, "https://www.kicktipp.de/testpool/tippabgabe?spieltagIndex=1", sent.Action)
	assert.Equal(t, page.URL, sent.Referer)
	// hidden state is passed back untouched
	assert.Equal(t, "token-1", sent.Values.Get("csrf"))
	assert.Equal(t, "4242", sent.Values.Get("tippsaisonId"))
	assert.Equal(t, "Tipps speichern", sent.Values.Get("submitbutton"))
	assert.Equal(t, "2", sent.Values.Get(homeFieldName(0)))
	assert.Equal(t, "1", sent.Values.Get(awayFieldName(8)))
}

func TestSubmitIsIdempotent(t *testing.T) {
	fixtures := bundesligaFixtures()
	for i := range fixtures {
		fixtures[i].HomeValue, fixtures[i].AwayValue = "2", "1"
	}
	remote := newFakeRemote(1, fixtures)
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, remote.sendCount())
	assert.Equal(t, 0, report.Attempts)
	assert.Equal(t, 9, report.Confirmed)
}

func TestSubmitWritesOnlyWhatDiffers(t *testing.T) {
	fixtures := bundesligaFixtures()
	for i := range fixtures {
		fixtures[i].HomeValue, fixtures[i].AwayValue = "2", "1"
	}
	// rendered with a leading zero, still the same number
	fixtures[1].HomeValue = "02"
	fixtures[4].AwayValue = "3"
	remote := newFakeRemote(1, fixtures)
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 1, report.Writes)
	assert.Equal(t, 9, report.Confirmed)
}

func TestSubmitRetriesMismatchedRows(t *testing.T) {
	remote := newFakeRemote(1, bundesligaFixtures())
	remote.dropFields[homeFieldName(2)] = 1
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 10, report.Writes)
	assert.Equal(t, 9, report.Confirmed)
	assert.Equal(t, 2, remote.sendCount())
	assert.Equal(t, "3", remote.sends[1].Values.Get(homeFieldName(2)))
}

func TestSubmitReportsResidualMismatch(t *testing.T) {
	remote := newFakeRemote(1, bundesligaFixtures())
	remote.dropFields[homeFieldName(2)] = 5
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	engine := NewSubmissionEngine(remote, ex, testSubmitConfig())
	report, err := engine.Submit(context.Background(), page, explicit(page.Rows, 3, 0))
	require.Error(t, err)

	var mm *SubmissionMismatchError
	require.True(t, errors.As(err, &mm), "expected SubmissionMismatchError, got %v", err)
	assert.Equal(t, 8, mm.Confirmed)
	assert.Equal(t, 9, mm.Total)
	require.Len(t, mm.Mismatches, 1)
	assert.Equal(t, 3, mm.Mismatches[0].RowIndex)
	assert.Equal(t, "", mm.Mismatches[0].RenderedHome)
	assert.Equal(t, "0", mm.Mismatches[0].RenderedAway)
	assert.Equal(t, engine.MaxAttempts(), report.Attempts)
	assert.Equal(t, engine.MaxAttempts(), remote.sendCount())
}

func TestSubmitExcludesRowsClosedMidway(t *testing.T) {
	remote := newFakeRemote(1, bundesligaFixtures())
	remote.dropFields[homeFieldName(4)] = 1
	remote.closeAfterSend = []int{4}
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{5}, report.Excluded)
	assert.Equal(t, 8, report.Total)
	assert.Equal(t, 8, report.Confirmed)
	assert.Equal(t, 1, remote.sendCount())
}

func TestSubmitReturnsNetworkErrorUnchanged(t *testing.T) {
	remote := newFakeRemote(1, bundesligaFixtures())
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)
	sendErr := &NetworkError{Op: "POST", URL: "https://www.kicktipp.de/testpool/tippabgabe", Err: context.DeadlineExceeded}
	remote.sendErr = sendErr

	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, explicit(page.Rows, 2, 1))
	require.Error(t, err)
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Same(t, sendErr, ne)
	assert.Equal(t, 0, report.Attempts)
}

func TestSubmitSkipsClosedTargets(t *testing.T) {
	fixtures := bundesligaFixtures()
	fixtures[0].Closed = true
	remote := newFakeRemote(1, fixtures)
	ex := NewFormExtractor(9)
	page := loadPage(t, remote, ex)

	preds := append(explicit(page.Rows, 2, 1), Prediction{RowIndex: 1, HomeGoals: 4, AwayGoals: 4})
	report, err := NewSubmissionEngine(remote, ex, testSubmitConfig()).Submit(context.Background(), page, preds)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Total)
	assert.NotContains(t, remote.sends[0].Values, homeFieldName(0))
}
