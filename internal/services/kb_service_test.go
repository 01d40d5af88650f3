package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/secureflow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAddKBItemRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	_, err := env.kb.AddKBItem(ctx, AddKBItemRequest{Text: "seed"})
	require.NoError(t, err)

	for _, text := range []string{"", "   \n"} {
		_, err := env.kb.AddKBItem(ctx, AddKBItemRequest{Text: text, Risk: models.RiskHigh})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Contains(t, err.Error(), "text")
	}

	n, err := env.kb.CountKB(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAddKBItemRejectsBadMeta(t *testing.T) {
	env := newTestEnv(t, 10)
	_, err := env.kb.AddKBItem(context.Background(), AddKBItemRequest{Text: "x", Meta: datatypes.JSON(`{broken`)})
	assert.True(t, IsValidation(err))
}

func TestAddKBItemResolvesAliases(t *testing.T) {
	env := newTestEnv(t, 10)
	item, err := env.kb.AddKBItem(context.Background(), AddKBItemRequest{
		Text:     "token reuse from new ASN",
		Category: models.CategoryCredentialAbuse,
		Meta:     datatypes.JSON(`{"log_id":"evt-9"}`),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, item.ID)
	assert.Equal(t, models.CategoryCredentialAbuse, item.IncidentCategory)
	require.NotNil(t, item.LogKey)
	assert.Equal(t, "evt-9", *item.LogKey)
}

func TestListKBExamples(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	for i, cat := range []string{"exfiltration", "exfiltration", "monitoring", "exfiltration", "exfiltration"} {
		_, err := env.kb.AddKBItem(ctx, AddKBItemRequest{
			Text:             string(rune('a' + i)),
			IncidentCategory: cat,
			Risk:             models.RiskHigh,
		})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	got, err := env.kb.ListKBExamples(ctx, "exfiltration", "", 0)
	require.NoError(t, err)
	require.Len(t, got, DefaultKBExamples)
	assert.Equal(t, "e", got[0].Text)
	assert.Equal(t, "d", got[1].Text)
	assert.Equal(t, "b", got[2].Text)

	none, err := env.kb.ListKBExamples(ctx, "", models.RiskSafe, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWriteExport(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	for _, text := range []string{"first", "second", "third"} {
		_, err := env.kb.AddKBItem(ctx, AddKBItemRequest{Text: text})
		require.NoError(t, err)
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, env.kb.WriteExport(ctx, &buf, ExportOptions{}))
		var items []models.KBItem
		require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
		require.Len(t, items, 3)
		assert.Equal(t, "first", items[0].Text)
		assert.Equal(t, "third", items[2].Text)
	})

	t.Run("ndjson zstd", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, env.kb.WriteExport(ctx, &buf, ExportOptions{Format: ExportNDJSON, Compress: true}))

		dec, err := zstd.NewReader(&buf)
		require.NoError(t, err)
		defer dec.Close()

		var texts []string
		sc := bufio.NewScanner(dec)
		for sc.Scan() {
			var item models.KBItem
			require.NoError(t, json.Unmarshal(sc.Bytes(), &item))
			texts = append(texts, item.Text)
		}
		require.NoError(t, sc.Err())
		assert.Equal(t, []string{"first", "second", "third"}, texts)
	})

	t.Run("unknown format", func(t *testing.T) {
		err := env.kb.WriteExport(ctx, &bytes.Buffer{}, ExportOptions{Format: "xml"})
		assert.True(t, IsValidation(err))
		assert.False(t, ValidExportFormat("xml"))
	})
}
