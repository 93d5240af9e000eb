package translator

import (
	"testing"

	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pwTestJSON = `{"titlePath":["","chromium","cart.spec.ts","checkout","applies coupon"],"projectName":"chromium"}`

func newPlaywright(t *testing.T) Translator {
	t.Helper()
	tr, err := New(KindPlaywright, Options{RunID: "pw-run", NewID: func() string { return "id" }})
	require.NoError(t, err)
	return tr
}

func TestPlaywright_Begin(t *testing.T) {
	tr := newPlaywright(t)

	events := translate(t, tr, `{"event":"onTestBegin","test":`+pwTestJSON+`,"result":{"retry":0,"startTime":"2024-01-02T03:04:05Z"}}`)
	require.Len(t, events, 1)
	b := events[0].Branch
	assert.Equal(t, core.EventBeginState, events[0].Name)
	assert.Equal(t, []string{"checkout", "applies coupon"}, b.SuitePath)
	assert.Equal(t, "chromium", b.Browser)
	assert.Equal(t, int64(1704164645000), b.Result.Timestamp)

	events = translate(t, tr, `{"event":"onTestBegin","test":`+pwTestJSON+`,"result":{"retry":2}}`)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventRetry, events[0].Name)
	assert.Equal(t, core.StatusQueued, events[0].Branch.Result.Status)
	assert.Equal(t, 2, events[0].Branch.Result.Attempt)
	assert.Equal(t, core.EventBeginState, events[1].Name)
	assert.Equal(t, 2, events[1].Branch.Result.Attempt)
}

func TestPlaywright_End(t *testing.T) {
	tests := []struct {
		name       string
		result     string
		wantStatus core.TestStatus
		wantImages []core.ImageFact
	}{
		{
			name:       "passed with reference",
			result:     `{"retry":0,"status":"passed","attachments":[{"name":"hero-expected.png","path":"e.png","contentType":"image/png"},{"name":"trace","path":"t.zip","contentType":"application/zip"}]}`,
			wantStatus: core.StatusSuccess,
			wantImages: []core.ImageFact{{StateName: "hero", Status: core.StatusSuccess, Expected: &core.Artifact{Path: "e.png"}}},
		},
		{
			name:       "timed out",
			result:     `{"retry":1,"status":"timedOut","errors":[{"message":"Test timeout of 30000ms exceeded.\nmore","stack":"s"}]}`,
			wantStatus: core.StatusError,
		},
		{
			name: "screenshot mismatch",
			result: `{"retry":0,"status":"failed","errors":[{"message":"Screenshot comparison failed: 120 pixels"}],"attachments":[
				{"name":"hero-expected.png","path":"e.png","contentType":"image/png"},
				{"name":"hero-actual.png","path":"a.png","contentType":"image/png"},
				{"name":"hero-diff.png","path":"d.png","contentType":"image/png"}]}`,
			wantStatus: core.StatusFail,
			wantImages: []core.ImageFact{{
				StateName: "hero", Status: core.StatusFail, ErrorKind: core.ImageErrorPixelMismatch,
				Expected: &core.Artifact{Path: "e.png"}, Actual: &core.Artifact{Path: "a.png"}, Diff: &core.Artifact{Path: "d.png"},
			}},
		},
		{
			name:       "skipped",
			result:     `{"retry":0,"status":"skipped"}`,
			wantStatus: core.StatusSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := translate(t, newPlaywright(t), `{"event":"onTestEnd","test":`+pwTestJSON+`,"result":`+tt.result+`}`)
			require.Len(t, events, 1)
			require.NoError(t, events[0].Validate())
			b := events[0].Branch
			assert.Equal(t, core.EventTestResult, events[0].Name)
			assert.Equal(t, tt.wantStatus, b.Result.Status)
			assert.Equal(t, tt.wantImages, b.Images)
		})
	}
}

func TestPlaywright_ErrorMessages(t *testing.T) {
	events := translate(t, newPlaywright(t), `{"event":"onTestEnd","test":`+pwTestJSON+`,"result":{"status":"failed","errors":[{"message":"a\nb"},{"message":"c"}]}}`)
	assert.Equal(t, `["a","c"]`, events[0].Branch.Result.Error.Message)
}

func TestPlaywright_NoRefImage(t *testing.T) {
	raw := `{"event":"onTestEnd","test":` + pwTestJSON + `,"result":{"status":"failed",
		"errors":[{"message":"A snapshot doesn't exist at hero.png, writing actual."}],
		"attachments":[{"name":"hero-actual.png","path":"a.png","contentType":"image/png"}]}}`

	events := translate(t, newPlaywright(t), raw)
	b := events[0].Branch
	assert.Equal(t, core.StatusFail, b.Result.Status)
	require.Len(t, b.Images, 1)
	assert.Equal(t, core.ImageErrorNoReference, b.Images[0].ErrorKind)
	assert.Equal(t, errNoRefImage, b.Result.Error.Name)
}

func TestPlaywright_RunLevel(t *testing.T) {
	tr := newPlaywright(t)

	assert.Empty(t, translate(t, tr, `{"event":"onStdErr"}`))
	assert.Equal(t, []core.Event{core.NewErrorEvent(core.RunError{ID: "id", Message: "config error"})},
		translate(t, tr, `{"event":"onError","error":{"message":"config error"}}`))
	assert.Equal(t, []core.Event{core.NewEndEvent("pw-run")}, translate(t, tr, `{"event":"onEnd"}`))

	_, err := tr.Translate([]byte(`{"event":"onTestEnd","test":{"titlePath":["","p","f"],"projectName":"p"},"result":{}}`))
	assert.ErrorIs(t, err, core.ErrTranslation)
	_, err = tr.Translate([]byte(`{"event":"onTestEnd","test":` + pwTestJSON + `}`))
	assert.ErrorIs(t, err, core.ErrTranslation)
}

func TestCanonical(t *testing.T) {
	tr, err := New(KindCanonical, Options{})
	require.NoError(t, err)

	events := translate(t, tr, `{"event":"BEGIN_SUITE","seq":42,"data":{"suitePath":["a"],"status":"running"}}`)
	require.Len(t, events, 1)
	assert.Equal(t, core.NewSuiteEvent([]string{"a"}, core.StatusRunning), events[0])

	_, err = tr.Translate([]byte(`{"event":"TEST_RESULT","data":{"suitePath":["a"],"browserId":"c","result":{"status":"running"}}}`))
	assert.ErrorIs(t, err, core.ErrTranslation)
}
