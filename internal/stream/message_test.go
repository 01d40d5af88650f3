package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/secureflow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSON(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		msg        Message
		hasRecords bool
		records    int
	}{
		{"empty snapshot", Message{Type: MessageSnapshot, At: at}, true, 0},
		{"snapshot", Message{Type: MessageSnapshot, Records: []models.LogRecord{{Key: "a"}}, At: at}, true, 1},
		{"pulse", Message{Type: MessagePulse, Seq: 3, At: at}, false, 0},
		{"record", Message{Type: MessageRecord, Seq: 4, Record: &models.LogRecord{Key: "b"}, At: at}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.msg)
			require.NoError(t, err)

			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &fields))
			assert.Equal(t, `"`+string(tt.msg.Type)+`"`, string(fields["type"]))

			recs, ok := fields["records"]
			assert.Equal(t, tt.hasRecords, ok, string(raw))
			if ok {
				var decoded []models.LogRecord
				require.NoError(t, json.Unmarshal(recs, &decoded))
				assert.Len(t, decoded, tt.records)
				assert.NotEqual(t, "null", string(recs))
			}

			var back Message
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, tt.msg.Seq, back.Seq)
			assert.True(t, tt.msg.At.Equal(back.At))
		})
	}
}
