package generation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

const testBaseURL = "https://pika.test"

func newMockedPika(t *testing.T, threshold uint32) (*PikaClient, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	client := NewPikaClient(PikaConfig{
		BaseURL:          testBaseURL + "/",
		APIKey:           "secret-key",
		NegativePrompt:   "blurry, low quality",
		Seed:             12345,
		Duration:         5,
		Resolution:       "720p",
		FailureThreshold: threshold,
		BreakerTimeout:   time.Minute,
	}, &http.Client{Transport: mt})
	return client, mt
}

func TestPikaCreateVideo(t *testing.T) {
	client, mt := newMockedPika(t, 5)

	mt.RegisterResponder(http.MethodPost, testBaseURL+"/generate/2.2/i2v",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret-key", req.Header.Get("X-API-KEY"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))

			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "to the moon", req.FormValue("promptText"))
			assert.Equal(t, "blurry, low quality", req.FormValue("negativePrompt"))
			assert.Equal(t, "12345", req.FormValue("seed"))
			assert.Equal(t, "5", req.FormValue("duration"))
			assert.Equal(t, "720p", req.FormValue("resolution"))

			f, hdr, err := req.FormFile("image")
			require.NoError(t, err)
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "image.jpg", hdr.Filename)
			assert.Equal(t, []byte("jpeg-bytes"), data)

			return httpmock.NewStringResponse(200, `{"video_id":"vid-1"}`), nil
		})

	id, err := client.CreateVideo(context.Background(), "to the moon", []byte("jpeg-bytes"), "")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", id)
}

func TestPikaCreateVideoWithoutID(t *testing.T) {
	client, mt := newMockedPika(t, 5)
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/generate/2.2/i2v",
		httpmock.NewStringResponder(200, `{"status":"queued"}`))

	_, err := client.CreateVideo(context.Background(), "p", []byte("x"), "a.png")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestPikaVideoStatus(t *testing.T) {
	client, mt := newMockedPika(t, 5)

	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/vid-1",
		httpmock.NewStringResponder(200, `{"id":"vid-1","status":"STARTED","progress":"42.5"}`))
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/vid-2",
		httpmock.NewStringResponder(200, `{"status":"finished","progress":100,"url":"https://cdn.test/v.mp4"}`))

	st, err := client.VideoStatus(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.Equal(t, &VideoStatus{VideoID: "vid-1", Status: StatusStarted, Progress: 42}, st)

	st, err = client.VideoStatus(context.Background(), "vid-2")
	require.NoError(t, err)
	assert.Equal(t, "vid-2", st.VideoID)
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "https://cdn.test/v.mp4", st.URL)
}

func TestPikaErrorsAreProviderUnavailable(t *testing.T) {
	client, mt := newMockedPika(t, 5)

	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/bad-json",
		httpmock.NewStringResponder(200, `{not json`))
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/server-error",
		httpmock.NewStringResponder(503, `overloaded`))
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/not-found",
		httpmock.NewStringResponder(404, `{"error":"not found"}`))
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/network",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	for _, id := range []string{"bad-json", "server-error", "not-found", "network"} {
		_, err := client.VideoStatus(context.Background(), id)
		assert.ErrorIs(t, err, common.ErrProviderUnavailable, id)
	}
}

func TestPikaBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client, mt := newMockedPika(t, 3)
	route := "GET " + testBaseURL + "/videos/v"
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/v", httpmock.NewStringResponder(500, "boom"))

	for i := 0; i < 3; i++ {
		_, err := client.VideoStatus(context.Background(), "v")
		require.ErrorIs(t, err, common.ErrProviderUnavailable)
	}
	assert.Equal(t, 3, mt.GetCallCountInfo()[route])

	_, err := client.VideoStatus(context.Background(), "v")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker")
	assert.Equal(t, 3, mt.GetCallCountInfo()[route], "open breaker does not reach the provider")
}

func TestPikaClientErrorsDoNotTripBreaker(t *testing.T) {
	client, mt := newMockedPika(t, 2)
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/videos/v", httpmock.NewStringResponder(404, "{}"))

	for i := 0; i < 5; i++ {
		_, err := client.VideoStatus(context.Background(), "v")
		require.ErrorIs(t, err, common.ErrProviderUnavailable)
	}
	assert.Equal(t, 5, mt.GetCallCountInfo()["GET "+testBaseURL+"/videos/v"])
}

func TestParseProgress(t *testing.T) {
	cases := map[string]int{
		``:       0,
		`null`:   0,
		`37`:     37,
		`"64"`:   64,
		`99.9`:   99,
		`-3`:     0,
		`250`:    100,
		`"half"`: 0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseProgress([]byte(in)), in)
	}
}
