package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/checks-optimizer/internal/optimizer"
	"github.com/Checker-Finance/checks-optimizer/internal/service"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

func sampleReport() *service.Report {
	cheapest := model.Item{ID: "42", Price: decimal.RequireFromString("0.5")}
	return &service.Report{
		ItemCount: 70,
		Optimization: service.Optimization{
			Satisfiable: true,
			TotalCost:   decimal.RequireFromString("32"),
			Combination: []service.Group{{
				TierGroup: optimizer.TierGroup{
					Tier: optimizer.UnitTier(80), Denomination: 80, Count: 64, Units: 64, Cheapest: cheapest,
				},
				CheapestURL: "https://m/0xc/42",
			}},
		},
		Sweep: optimizer.SweepResult{
			Units: optimizer.ClassSweep{Cost: decimal.RequireFromString("30"), Count: 64},
		},
		Cheapest: &service.Cheapest{TokenID: "7", Price: decimal.RequireFromString("1.1"), URL: "https://m/0xc/7"},
	}
}

func TestPrintReport_Pretty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "pretty"))

	out := buf.String()
	assert.Contains(t, out, "Optimal combination: 32.0000 ETH")
	assert.Contains(t, out, "80 grid")
	assert.Contains(t, out, "https://m/0xc/42")
	assert.Contains(t, out, "Sweep checks:   30.0000 ETH (64 items)")
	assert.Contains(t, out, "Cheapest single check: #7")
}

func TestPrintReport_PrettyUnsatisfiable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, &service.Report{Warning: "stale"}, "pretty"))

	out := buf.String()
	assert.Contains(t, out, "not enough listings")
	assert.Contains(t, out, "Warning:   stale")
	assert.Contains(t, out, "none listed")
}

func TestPrintReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "json"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "optimalCombination")
	assert.Contains(t, decoded, "sweepPrices")
}

func TestPrintReport_UnsupportedFormat(t *testing.T) {
	err := printReport(&bytes.Buffer{}, sampleReport(), "yaml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestOptimizeCmd_RejectsFormatBeforeLoading(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"optimize", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "unsupported format")
}

func TestRootCmd_PrintsPricesAsNumbers(t *testing.T) {
	prev := decimal.MarshalJSONWithoutQuotes
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = prev })
	decimal.MarshalJSONWithoutQuotes = false

	cmd := newRootCmd()
	cmd.SetArgs([]string{"optimize", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	_ = cmd.Execute()
	require.True(t, decimal.MarshalJSONWithoutQuotes)

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "json"))

	var decoded struct {
		Optimization struct {
			TotalCost json.RawMessage `json:"totalCost"`
		} `json:"optimalCombination"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "32", string(decoded.Optimization.TotalCost))
}
