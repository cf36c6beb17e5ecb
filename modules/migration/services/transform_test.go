package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/cutover/modules/migration/services"
)

const customerMapping = `
entities:
  customer:
    id_field: CUST_NO
    fields:
      - source: CUST_NAME
        target: name
        trim: true
      - source: EMAIL
        target: email
        trim: true
        lower: true
      - source: CREDIT_LIMIT
        target: credit_limit
        type: decimal
      - source: ACTIVE_FLAG
        target: active
        type: bool
      - source: SIGNUP_DT
        target: signed_up_on
        type: date
      - source: BRANCH_NO
        target: branch
        type: int
`

func newCustomerTransformer(t *testing.T) *services.ChainTransformer {
	t.Helper()
	tr, err := services.NewChainTransformer([]byte(customerMapping))
	require.NoError(t, err)
	return tr
}

func TestChainTransformer_FieldRules(t *testing.T) {
	t.Parallel()
	tr := newCustomerTransformer(t)

	rec, err := tr.Transform(context.Background(), "customer", services.RawRecord{
		"CUST_NO":      "C-1001",
		"CUST_NAME":    "  Acme Widgets  ",
		"EMAIL":        " Sales@ACME.example ",
		"CREDIT_LIMIT": "12500.50",
		"ACTIVE_FLAG":  "true",
		"SIGNUP_DT":    "2019-03-14",
		"BRANCH_NO":    float64(7),
	})
	require.NoError(t, err)

	assert.Equal(t, "C-1001", rec.LegacyID)
	assert.Equal(t, "Acme Widgets", rec.Data["name"])
	assert.Equal(t, "sales@acme.example", rec.Data["email"])
	assert.Equal(t, "12500.5", rec.Data["credit_limit"])
	assert.Equal(t, true, rec.Data["active"])
	assert.Equal(t, "2019-03-14", rec.Data["signed_up_on"])
	assert.Equal(t, int64(7), rec.Data["branch"])
}

func TestChainTransformer_MissingSourceFieldsAreOmitted(t *testing.T) {
	t.Parallel()
	tr := newCustomerTransformer(t)

	rec, err := tr.Transform(context.Background(), "customer", services.RawRecord{
		"CUST_NO":   "C-1",
		"CUST_NAME": "Solo",
	})
	require.NoError(t, err)
	assert.Equal(t, "Solo", rec.Data["name"])
	assert.NotContains(t, rec.Data, "email")
	assert.NotContains(t, rec.Data, "credit_limit")
}

func TestChainTransformer_Errors(t *testing.T) {
	t.Parallel()
	tr := newCustomerTransformer(t)

	cases := []struct {
		name string
		raw  services.RawRecord
	}{
		{"missing id", services.RawRecord{"CUST_NAME": "No ID"}},
		{"bad decimal", services.RawRecord{"CUST_NO": "C-1", "CREDIT_LIMIT": "a lot"}},
		{"bad date", services.RawRecord{"CUST_NO": "C-1", "SIGNUP_DT": "eventually"}},
		{"fractional int", services.RawRecord{"CUST_NO": "C-1", "BRANCH_NO": 7.5}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tr.Transform(context.Background(), "customer", tc.raw)
			var fieldErr *services.TransformFieldError
			require.ErrorAs(t, err, &fieldErr)
		})
	}
}

func TestChainTransformer_UnknownEntityType(t *testing.T) {
	t.Parallel()
	tr := newCustomerTransformer(t)

	_, err := tr.Transform(context.Background(), "invoice", services.RawRecord{"CUST_NO": "C-1"})
	require.Error(t, err)
}

func TestChainTransformer_VersionIsContentHash(t *testing.T) {
	t.Parallel()

	a, err := services.NewChainTransformer([]byte(customerMapping))
	require.NoError(t, err)
	b, err := services.NewChainTransformer([]byte(customerMapping))
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version(), "same config bytes, same version")

	c, err := services.NewChainTransformer([]byte(customerMapping + "\n# touched\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), c.Version(), "any byte change invalidates the version")
}

func TestChainTransformer_RejectsMissingIDField(t *testing.T) {
	t.Parallel()

	_, err := services.NewChainTransformer([]byte("entities:\n  customer:\n    fields: []\n"))
	require.Error(t, err)
}
