package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/cardx/internal/domain"
)

func TestConf_ScenarioTradeQuantity(t *testing.T) {
	got := string(Conf("My Cards", []domain.AggregateEntry{{ID: 12345, Name: "Card A", Quantity: 2}}, 3))
	want := "#[My Cards]\n!My Cards\n$whitelist\n12345 2 #Card A\n"
	assert.Equal(t, want, got)
}

func TestConf_ClampsAndFilters(t *testing.T) {
	got := string(Conf("Vault", []domain.AggregateEntry{
		{ID: 1, Name: "Six", Quantity: 6},
		{ID: 0, Name: "NoID", Quantity: 2},
		{ID: -5, Name: "Negative", Quantity: 1},
		{ID: 2, Name: "Zero", Quantity: 0},
		{ID: 3, Name: "Two", Quantity: 2},
	}, 3))

	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Equal(t, []string{"#[Vault]", "!Vault", "$whitelist", "1 3 #Six", "3 2 #Two"}, lines)
}

func TestConfFileName(t *testing.T) {
	assert.Equal(t, "MyCards.lflist.conf", ConfFileName("My Cards"))
	assert.Equal(t, "Vault.lflist.conf", ConfFileName(" Vault "))
	assert.Equal(t, "MyCards.lflist.conf", ConfFileName(""))
}

func TestWriteBucket_JSON(t *testing.T) {
	out := t.TempDir()
	w := Writer{OutDir: out, ListName: "My Cards", Format: FormatJSON, MaxCopies: 3}

	files, err := w.WriteBucket(Bucket{
		Name: "all",
		Cards: []domain.NormalizedCard{
			{Name: "Black Luster Soldier & Co", SetCode: "LOB-EN001", SetCodeGlobal: "LOB-001", Quantity: 2, Format: domain.FormatTCG},
		},
		Entries: []domain.AggregateEntry{{ID: 12345, Name: "Card A", Quantity: 6}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "all", "cards.json"), files.Cards)
	assert.Equal(t, filepath.Join(out, "all", "MyCards.lflist.conf"), files.List)

	cards, err := os.ReadFile(files.Cards)
	require.NoError(t, err)
	assert.Contains(t, string(cards), "\n    {\n        \"name\": \"Black Luster Soldier & Co\",", "应使用 4 空格缩进且不转义 &")

	var entries []domain.AggregateEntry
	b, err := os.ReadFile(files.Conf)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &entries))
	assert.Equal(t, 6, entries[0].Quantity, "conf_cards 保留未截断的累计值")

	errs, err := os.ReadFile(files.Errors)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(errs), "空列表应写成 []")

	conf, err := os.ReadFile(files.List)
	require.NoError(t, err)
	assert.Equal(t, "#[My Cards]\n!My Cards\n$whitelist\n12345 3 #Card A\n", string(conf))
}

func TestWriteBucket_YAML(t *testing.T) {
	out := t.TempDir()
	w := Writer{OutDir: out, ListName: "My Cards", Format: FormatYAML, MaxCopies: 3}

	files, err := w.WriteBucket(Bucket{
		Name:   "ocg",
		Errors: []domain.ErrorEntry{{Card: domain.NormalizedCard{Name: "X", SetCode: "XXX-JP001"}, Kind: domain.ErrCodeLookupNetwork, Message: "HTTP 404"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "ocg", "cards_with_error.yaml"), files.Errors)

	b, err := os.ReadFile(files.Errors)
	require.NoError(t, err)
	var got []domain.ErrorEntry
	require.NoError(t, yaml.Unmarshal(b, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "XXX-JP001", got[0].Card.SetCode)
	assert.Equal(t, domain.ErrCodeLookupNetwork, got[0].Kind)

	_, err = os.Stat(filepath.Join(out, "ocg", "MyCards.lflist.conf"))
	assert.NoError(t, err, "lflist.conf 始终输出")
}

func TestWriteListingsAndReport(t *testing.T) {
	out := t.TempDir()
	w := Writer{OutDir: out, ListName: "My Cards"}

	p, err := w.WriteListings(nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "listings.json"), p)

	rp, err := w.WriteReport(domain.RunReport{Input: "/in/all-folders.csv"})
	require.NoError(t, err)
	b, err := os.ReadFile(rp)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "/in/all-folders.csv", m["input"])
}

func TestWriteBucket_OutDirIsFile(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "out")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Writer{OutDir: blocker, ListName: "L"}.WriteBucket(Bucket{Name: "all"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExportWrite, Code(err))
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, err := Encode("xml", []int{1})
	assert.Error(t, err)
}
