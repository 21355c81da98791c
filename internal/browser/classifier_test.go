package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/listpilot/listpilot/internal/domain/model"
)

func testDirectory() *model.Directory {
	return &model.Directory{
		ID:             "dir-1",
		Name:           "yellowpages",
		SuccessMarkers: []string{"thank you for your submission", "listing received"},
		ErrorMarkers:   []string{"duplicate listing", "error:"},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus model.ResultStatus
		wantMarker string
	}{
		{
			name:       "success marker",
			body:       `<html><body>Thank You For Your Submission!</body></html>`,
			wantStatus: model.ResultStatusSubmitted,
			wantMarker: "thank you for your submission",
		},
		{
			name:       "error marker",
			body:       `<html><body>Error: duplicate listing detected</body></html>`,
			wantStatus: model.ResultStatusFailed,
			wantMarker: "duplicate listing",
		},
		{
			name:       "error marker wins over success marker",
			body:       `<html>listing received ... error: could not save</html>`,
			wantStatus: model.ResultStatusFailed,
			wantMarker: "error:",
		},
		{
			name:       "no marker is ambiguous",
			body:       `<html><body>We will process your request shortly.</body></html>`,
			wantStatus: model.ResultStatusNeedsHuman,
		},
		{
			name:       "empty body is ambiguous",
			body:       "",
			wantStatus: model.ResultStatusNeedsHuman,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verdict := Classify(testDirectory(), tt.body)
			assert.Equal(t, tt.wantStatus, verdict.Status)
			assert.Equal(t, tt.wantMarker, verdict.Marker)
		})
	}
}

func TestClassifyJMESPathMarkers(t *testing.T) {
	t.Parallel()

	dir := &model.Directory{
		ID:             "dir-json",
		Name:           "api-directory",
		SuccessMarkers: []string{"jmespath:result.accepted"},
		ErrorMarkers:   []string{"jmespath:errors[0]"},
	}

	t.Run("success expression", func(t *testing.T) {
		t.Parallel()
		verdict := Classify(dir, `{"result":{"accepted":true}}`)
		assert.Equal(t, model.ResultStatusSubmitted, verdict.Status)
	})

	t.Run("error expression wins", func(t *testing.T) {
		t.Parallel()
		verdict := Classify(dir, `{"result":{"accepted":true},"errors":["bad category"]}`)
		assert.Equal(t, model.ResultStatusFailed, verdict.Status)
	})

	t.Run("false result is ambiguous", func(t *testing.T) {
		t.Parallel()
		verdict := Classify(dir, `{"result":{"accepted":false}}`)
		assert.Equal(t, model.ResultStatusNeedsHuman, verdict.Status)
	})

	t.Run("expression never matches plain html", func(t *testing.T) {
		t.Parallel()
		verdict := Classify(dir, `<html>result.accepted</html>`)
		assert.Equal(t, model.ResultStatusNeedsHuman, verdict.Status)
	})
}
