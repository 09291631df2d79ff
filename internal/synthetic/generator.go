// Package synthetic generates reproducible customer rows and replays them
// against a running segmentation service.
package synthetic

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/custseg/internal/domain/customer"
)

// Generation ranges.
const (
	birthYearMin   = 1945
	birthYearSpan  = 55
	incomeMin      = 8_000
	incomeSpan     = 110_000
	enrolSpanDays  = 700
	recencyMax     = 100
	outlierIncome  = 666_666
	outlierBirthYr = 1893
)

var (
	enrolStart = time.Date(2012, time.July, 30, 0, 0, 0, 0, time.UTC)

	educations = []string{"Graduation", "PhD", "Master", "Basic", "2n Cycle"}
	maritals   = []string{"Married", "Together", "Single", "Divorced", "Widow"}

	// spendScale sets the typical upper bound per spend field.
	spendScale = map[string]int{
		"MntWines":         1500,
		"MntFruits":        200,
		"MntMeatProducts":  1700,
		"MntFishProducts":  260,
		"MntSweetProducts": 260,
		"MntGoldProds":     320,
	}
)

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithSeed sets the random seed.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.seed = seed }
}

// WithOutlierEvery marks every nth row as an income or age outlier. Zero
// disables outliers.
func WithOutlierEvery(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.outlierEvery = n
		}
	}
}

// WithMissingEvery blanks the Income field of every nth row. Zero disables it.
func WithMissingEvery(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.missingEvery = n
		}
	}
}

// Generator produces customer rows in the raw TSV shape, with every value as
// a string.
type Generator struct {
	seed         int64
	outlierEvery int
	missingEvery int
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{seed: 42}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Rows returns n rows. The same seed always yields the same rows.
func (g *Generator) Rows(n int) []customer.Row {
	rng := rand.New(rand.NewSource(g.seed)) //nolint:gosec // reproducible data is the point
	rows := make([]customer.Row, n)
	for i := range rows {
		rows[i] = g.row(i, rng)
	}
	return rows
}

func (g *Generator) row(i int, rng *rand.Rand) customer.Row {
	id, _ := uuid.NewRandomFromReader(rng)
	kids := rng.Intn(3)
	teens := rng.Intn(3)
	affluence := rng.Float64()
	income := incomeMin + int(affluence*incomeSpan)

	r := customer.Row{
		"ID":                  id.String(),
		"Year_Birth":          strconv.Itoa(birthYearMin + rng.Intn(birthYearSpan)),
		"Education":           educations[rng.Intn(len(educations))],
		"Marital_Status":      maritals[rng.Intn(len(maritals))],
		"Income":              strconv.Itoa(income),
		"Kidhome":             strconv.Itoa(kids),
		"Teenhome":            strconv.Itoa(teens),
		"Dt_Customer":         enrolStart.AddDate(0, 0, rng.Intn(enrolSpanDays)).Format("02-01-2006"),
		"Recency":             strconv.Itoa(rng.Intn(recencyMax)),
		"NumDealsPurchases":   strconv.Itoa(1 + kids + teens + rng.Intn(3)),
		"NumWebPurchases":     strconv.Itoa(rng.Intn(3 + int(affluence*8))),
		"NumCatalogPurchases": strconv.Itoa(int(affluence * 10 * rng.Float64())),
		"NumStorePurchases":   strconv.Itoa(2 + int(affluence*10)),
		"NumWebVisitsMonth":   strconv.Itoa(1 + int((1-affluence)*8)),
		"AcceptedCmp1":        "0",
		"Complain":            "0",
		"Z_CostContact":       "3",
		"Z_Revenue":           "11",
		"Response":            strconv.Itoa(rng.Intn(2)),
	}
	for _, f := range customer.SpendFields {
		// Households with children spend less in this synthetic world.
		limit := float64(spendScale[f]) * affluence / float64(1+kids+teens)
		r[f] = strconv.Itoa(int(limit * rng.Float64()))
	}

	if g.outlierEvery > 0 && (i+1)%g.outlierEvery == 0 {
		if (i/g.outlierEvery)%2 == 0 {
			r["Income"] = strconv.Itoa(outlierIncome)
		} else {
			r["Year_Birth"] = strconv.Itoa(outlierBirthYr)
		}
	}
	if g.missingEvery > 0 && (i+1)%g.missingEvery == 0 {
		r["Income"] = ""
	}
	return r
}
