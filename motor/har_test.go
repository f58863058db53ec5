package motor

import (
	"strings"
	"testing"

	"github.com/pb33f/lantern/motor/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHAR = `{"log": {
	"version": "1.2",
	"creator": {"name": "test", "version": "1"},
	"pages": [{"id": "page_1", "title": "https://example.com/", "startedDateTime": "2025-01-01T00:00:00.000Z"}],
	"entries": [
		{
			"startedDateTime": "2025-01-01T00:00:00.100Z", "time": 150,
			"request": {"method": "GET", "url": "https://example.com/app.js", "httpVersion": "h2", "headers": []},
			"response": {"status": 200, "httpVersion": "h2", "headers": [], "redirectURL": "",
				"content": {"size": 40000, "mimeType": "application/javascript"}, "headersSize": 100, "bodySize": 20000},
			"timings": {"blocked": -1, "dns": -1, "connect": -1, "ssl": -1, "send": 1, "wait": 99, "receive": 50},
			"connection": "7"
		},
		{
			"startedDateTime": "2025-01-01T00:00:00.000Z", "time": 90,
			"request": {"method": "GET", "url": "http://example.com/", "httpVersion": "HTTP/1.1", "headers": []},
			"response": {"status": 301, "httpVersion": "HTTP/1.1", "headers": [], "redirectURL": "https://example.com/",
				"content": {"size": 0, "mimeType": ""}, "headersSize": 150, "bodySize": -1},
			"timings": {"blocked": 2, "dns": 10, "connect": 40, "ssl": -1, "send": 1, "wait": 37, "receive": 0},
			"connection": "5"
		},
		{
			"startedDateTime": "2025-01-01T00:00:00.090Z", "time": 60,
			"request": {"method": "GET", "url": "https://example.com/", "httpVersion": "h2", "headers": []},
			"response": {"status": 200, "httpVersion": "h2", "headers": [], "redirectURL": "",
				"content": {"size": 12000, "mimeType": "text/html"}, "headersSize": 200, "bodySize": 4000},
			"timings": {"blocked": 0, "dns": 0, "connect": 30, "ssl": 20, "send": 0, "wait": 20, "receive": 10},
			"connection": "7"
		}
	]
}}`

func TestRecordsFromHAR(t *testing.T) {
	records, err := RecordsFromHAR(strings.NewReader(sampleHAR), HAROptions{BaseTime: 5000})
	require.NoError(t, err)
	require.Len(t, records, 3)

	redirect, doc, script := records[0], records[1], records[2]

	assert.Equal(t, "http://example.com/", redirect.URL)
	assert.Equal(t, model.ResourceDocument, redirect.ResourceType)
	assert.InDelta(t, 5000.0, redirect.StartTime, 1e-9)
	assert.InDelta(t, 5090.0, redirect.EndTime, 1e-9)
	assert.Equal(t, int64(150), redirect.TransferSize)
	assert.Equal(t, doc.RequestID, redirect.RedirectDestination)
	require.NotNil(t, redirect.Timing)
	assert.InDelta(t, 2.0, redirect.Timing.DNSStart, 1e-9)
	assert.InDelta(t, 12.0, redirect.Timing.DNSEnd, 1e-9)
	assert.InDelta(t, 52.0, redirect.Timing.ConnectEnd, 1e-9)
	assert.InDelta(t, -1.0, redirect.Timing.SSLStart, 1e-9)
	assert.InDelta(t, 90.0, redirect.Timing.ReceiveHeadersEnd, 1e-9)
	assert.False(t, redirect.ConnectionReused)

	assert.InDelta(t, 5090.0, doc.StartTime, 1e-9)
	assert.Equal(t, redirect.RequestID, doc.RedirectSource)
	assert.Equal(t, model.InitiatorRedirect, doc.Initiator.Type)
	assert.Equal(t, int64(4200), doc.TransferSize)
	assert.InDelta(t, 10.0, doc.Timing.SSLStart, 1e-9)
	assert.InDelta(t, 30.0, doc.Timing.SSLEnd, 1e-9)
	assert.InDelta(t, 5140.0, doc.ResponseReceivedTime, 1e-9)

	assert.Equal(t, model.ResourceScript, script.ResourceType)
	assert.True(t, script.ConnectionReused)
	assert.True(t, script.IsHTTP2())
	assert.Equal(t, "7", script.ConnectionID)
	assert.InDelta(t, 5250.0, script.EndTime, 1e-9)
	assert.InDelta(t, -1.0, script.Timing.DNSStart, 1e-9)
	assert.InDelta(t, 0.0, script.Timing.SendStart, 1e-9)

	for _, r := range records {
		assert.Equal(t, "http://example.com/", r.DocumentURL)
		assert.True(t, r.Finished)
	}
}

func TestRecordsFromHAR_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an object", `[]`},
		{"log not an object", `{"log": []}`},
		{"truncated", `{"log": {"entries": [{"startedDateTime": "2025`},
		{"bad time", `{"log": {"entries": [{"startedDateTime": "yesterday", "request": {}, "response": {}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecordsFromHAR(strings.NewReader(tt.input), HAROptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestRecordsFromHAR_Empty(t *testing.T) {
	records, err := RecordsFromHAR(strings.NewReader(`{"log": {"entries": []}}`), HAROptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
