// Package customer turns raw customer rows into model-ready feature records.
//
// The same derivation code runs for training and inference. Training adds
// two steps on top: rows that fail to parse are dropped instead of reported,
// and rows at or above the age and income caps are excluded as outliers.
package customer

import (
	"math"
	"time"
)

// Default outlier caps.
const (
	DefaultAgeCap    = 90
	DefaultIncomeCap = 600_000
)

const hoursPerDay = 24

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithAsOfYear sets the year used to compute age.
func WithAsOfYear(year int) Option {
	return func(b *Builder) {
		if year > 0 {
			b.asOfYear = year
		}
	}
}

// WithAgeCap sets the training age cap.
func WithAgeCap(limit int) Option {
	return func(b *Builder) {
		if limit > 0 {
			b.ageCap = limit
		}
	}
}

// WithIncomeCap sets the training income cap.
func WithIncomeCap(limit float64) Option {
	return func(b *Builder) {
		if limit > 0 {
			b.incomeCap = limit
		}
	}
}

// Builder derives FeatureRecords from Rows. It holds no mutable state and is
// safe for concurrent use.
type Builder struct {
	asOfYear  int
	ageCap    int
	incomeCap float64
}

// NewBuilder creates a Builder. The as-of year defaults to the current year.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		asOfYear:  time.Now().Year(),
		ageCap:    DefaultAgeCap,
		incomeCap: DefaultIncomeCap,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reference pins the dates a derivation is computed against.
type Reference struct {
	// AsOfYear is subtracted from Year_Birth to get age.
	AsOfYear int
	// TenureDate is subtracted from Dt_Customer to get tenure_days.
	TenureDate time.Time
}

// DropReport counts rows excluded from a training set, by reason.
type DropReport struct {
	MissingField   int
	MalformedInput int
	AgeOutlier     int
	IncomeOutlier  int
}

// Total returns the number of dropped rows.
func (d DropReport) Total() int {
	return d.MissingField + d.MalformedInput + d.AgeOutlier + d.IncomeOutlier
}

// TrainingSet is the output of BuildTraining.
type TrainingSet struct {
	Records []FeatureRecord
	// Source holds, for each record, the index of the input row it came from.
	Source    []int
	Reference Reference
	Dropped   DropReport
}

// Result is the outcome of featurizing one inference row.
type Result struct {
	Record FeatureRecord
	Err    error
}

// raw is a parsed and type-checked input row.
type raw struct {
	education string
	marital   string
	income    float64
	kidhome   float64
	teenhome  float64
	recency   float64
	spend     []float64
	engage    []float64
	enrolled  time.Time
	yearBirth float64
}

// AsOfYear returns the configured as-of year.
func (b *Builder) AsOfYear() int { return b.asOfYear }

// BuildTraining featurizes a training batch. Unparseable rows and outliers are
// dropped and counted. The tenure reference is the latest enrollment date
// among the rows that parsed.
func (b *Builder) BuildTraining(rows []Row) TrainingSet {
	var (
		set    TrainingSet
		parsed = make([]raw, 0, len(rows))
		source = make([]int, 0, len(rows))
	)
	for i, row := range rows {
		r, err := parse(row)
		if err != nil {
			switch ErrorKind(err) {
			case KindMissingField:
				set.Dropped.MissingField++
			default:
				set.Dropped.MalformedInput++
			}
			continue
		}
		parsed = append(parsed, r)
		source = append(source, i)
	}

	set.Reference = Reference{AsOfYear: b.asOfYear}
	for _, r := range parsed {
		if r.enrolled.After(set.Reference.TenureDate) {
			set.Reference.TenureDate = r.enrolled
		}
	}

	for i, r := range parsed {
		age := float64(b.asOfYear) - r.yearBirth
		if age >= float64(b.ageCap) {
			set.Dropped.AgeOutlier++
			continue
		}
		if r.income >= b.incomeCap {
			set.Dropped.IncomeOutlier++
			continue
		}
		set.Records = append(set.Records, derive(r, set.Reference))
		set.Source = append(set.Source, source[i])
	}
	return set
}

// BuildInference featurizes rows one by one against ref. Every input row
// yields one Result, in input order. No outlier filtering is applied.
func (b *Builder) BuildInference(rows []Row, ref Reference) []Result {
	out := make([]Result, len(rows))
	for i, row := range rows {
		r, err := parse(row)
		if err != nil {
			out[i] = Result{Err: err}
			continue
		}
		out[i] = Result{Record: derive(r, ref)}
	}
	return out
}

func parse(row Row) (raw, error) {
	var (
		r   raw
		v   any
		err error
	)
	if v, err = row.get(FieldEducation); err != nil {
		return r, err
	}
	if r.education, err = parseString(FieldEducation, v); err != nil {
		return r, err
	}
	if v, err = row.get(FieldMaritalStatus); err != nil {
		return r, err
	}
	if r.marital, err = parseString(FieldMaritalStatus, v); err != nil {
		return r, err
	}

	numbers := []struct {
		field   string
		dst     *float64
		integer bool
	}{
		{FieldIncome, &r.income, false},
		{FieldKidhome, &r.kidhome, true},
		{FieldTeenhome, &r.teenhome, true},
		{FieldRecency, &r.recency, true},
		{FieldYearBirth, &r.yearBirth, true},
	}
	for _, n := range numbers {
		if *n.dst, err = readNumber(row, n.field, n.integer); err != nil {
			return r, err
		}
	}

	r.spend = make([]float64, len(SpendFields))
	for i, f := range SpendFields {
		if r.spend[i], err = readNumber(row, f, false); err != nil {
			return r, err
		}
	}
	r.engage = make([]float64, len(EngagementFields))
	for i, f := range EngagementFields {
		if r.engage[i], err = readNumber(row, f, true); err != nil {
			return r, err
		}
	}

	if v, err = row.get(FieldDtCustomer); err != nil {
		return r, err
	}
	if r.enrolled, err = parseDate(FieldDtCustomer, v); err != nil {
		return r, err
	}
	return r, nil
}

func readNumber(row Row, field string, integer bool) (float64, error) {
	v, err := row.get(field)
	if err != nil {
		return 0, err
	}
	if integer {
		return parseInt(field, v)
	}
	return ParseNumber(field, v)
}

// derive computes the feature record. It is the only place features are
// computed, for training and inference alike.
func derive(r raw, ref Reference) FeatureRecord {
	rec := make(FeatureRecord, len(FeatureSchema))

	rec[ColEducationTier] = EducationTier(r.education)
	rec[FieldIncome] = r.income
	rec[FieldKidhome] = r.kidhome
	rec[FieldTeenhome] = r.teenhome
	rec[FieldRecency] = r.recency

	total := 0.0
	for i, f := range SpendFields {
		rec[f] = r.spend[i]
		total += r.spend[i]
	}
	for i, f := range EngagementFields {
		rec[f] = r.engage[i]
	}

	rec[ColTenureDays] = math.Floor(ref.TenureDate.Sub(r.enrolled).Hours() / hoursPerDay)
	rec[ColAge] = float64(ref.AsOfYear) - r.yearBirth
	rec[ColTotalSpend] = total

	living := LivingSituation(r.marital)
	children := r.kidhome + r.teenhome
	adults := 1.0
	if living == Partner {
		adults = 2
	}
	isParent := 0.0
	if children > 0 {
		isParent = 1
	}
	rec[ColLivingSituation] = living
	rec[ColChildren] = children
	rec[ColFamilySize] = adults + children
	rec[ColIsParent] = isParent
	return rec
}
