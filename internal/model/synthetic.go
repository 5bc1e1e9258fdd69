package model

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
)

// SyntheticPatientGenerator produces labeled training examples with
// internally consistent lab values: a record labeled with a disorder carries
// the lab pattern that disorder implies, and the true HbA1c reflects glucose
// exposure adjusted for the disorder's RBC-lifespan bias.
type SyntheticPatientGenerator struct {
	logger *logrus.Logger
	rng    *rand.Rand
}

// NewSyntheticPatientGenerator creates a generator. A zero seed randomizes
// per call site; any other seed makes Generate deterministic.
func NewSyntheticPatientGenerator(logger *logrus.Logger, seed int64) *SyntheticPatientGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticPatientGenerator{
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Category distribution for sampled labels. The majority "none" class keeps
// the classifier from collapsing onto disorder categories.
var disorderDistribution = []struct {
	disorder domain.Disorder
	weight   float64
}{
	{domain.DisorderNone, 0.60},
	{domain.DisorderIronDeficiency, 0.10},
	{domain.DisorderThalassemia, 0.10},
	{domain.DisorderSickleCell, 0.10},
	{domain.DisorderG6PD, 0.10},
}

// Generate produces count labeled training examples.
func (g *SyntheticPatientGenerator) Generate(count int) []domain.TrainingExample {
	examples := make([]domain.TrainingExample, 0, count)
	counts := make(map[domain.Disorder]int)

	for i := 0; i < count; i++ {
		disorder := g.sampleDisorder()
		example := g.generateExample(fmt.Sprintf("SYN-%05d", i), disorder)
		examples = append(examples, example)
		counts[disorder]++
	}

	g.logger.WithFields(logrus.Fields{
		"count":        count,
		"distribution": counts,
	}).Info("Generated synthetic training corpus")

	return examples
}

// sampleDisorder draws a disorder label from the fixed category distribution.
func (g *SyntheticPatientGenerator) sampleDisorder() domain.Disorder {
	r := g.rng.Float64()
	cum := 0.0
	for _, d := range disorderDistribution {
		cum += d.weight
		if r < cum {
			return d.disorder
		}
	}
	return domain.DisorderNone
}

// generateExample samples one physiologically consistent record for the
// given disorder label and computes its ground-truth corrected HbA1c.
func (g *SyntheticPatientGenerator) generateExample(id string, disorder domain.Disorder) domain.TrainingExample {
	rec := domain.PatientRecord{
		PatientID: id,
		Disorder:  disorder,
	}

	female := g.rng.Float64() < 0.5
	if female {
		rec.Gender = "F"
	} else {
		rec.Gender = "M"
	}
	rec.Age = domain.Some(g.clippedNorm(45, 15, 18, 90))

	// Glycemic state: a minority of synthetic patients are diabetic so the
	// glucose-to-HbA1c mapping is learned across the clinical range.
	var fasting, meanGlucose float64
	if g.rng.Float64() < 0.3 {
		fasting = g.clippedNorm(150, 30, 110, 300)
	} else {
		fasting = g.clippedNorm(92, 10, 65, 110)
	}
	meanGlucose = fasting + g.norm(18, 12)
	if meanGlucose < 60 {
		meanGlucose = 60
	}

	rec.FastingGlucose = domain.Some(round1(fasting))
	rec.RandomGlucose = g.maybe(0.85, round1(meanGlucose+g.norm(20, 15)))
	rec.OGTT2hr = g.maybe(0.7, round1(fasting+g.clippedNorm(45, 20, 5, 200)))
	rec.AvgGlucoseCGM = g.maybe(0.6, round1(meanGlucose+g.norm(0, 6)))

	// Haematology profile per disorder. Each category has a distinct
	// MCV / haemoglobin / haemolysis-marker / lifespan signature.
	var hb, mcv, retic, bilirubin, ldh, hapto, ferritin, tsat, serumIron, tibc, rbcCount, lifespan float64
	switch disorder {
	case domain.DisorderIronDeficiency:
		hb = g.clippedNorm(9.5, 1.0, 6.5, 11.5)
		mcv = g.clippedNorm(72, 4, 60, 80)
		retic = g.clippedNorm(0.9, 0.3, 0.2, 1.8)
		bilirubin = g.clippedNorm(0.6, 0.2, 0.2, 1.2)
		ldh = g.clippedNorm(170, 30, 100, 250)
		hapto = g.clippedNorm(110, 30, 40, 200)
		ferritin = g.clippedNorm(10, 4, 3, 25)
		tsat = g.clippedNorm(10, 4, 2, 18)
		serumIron = g.clippedNorm(32, 10, 10, 60)
		tibc = g.clippedNorm(430, 40, 360, 550)
		rbcCount = g.clippedNorm(4.1, 0.4, 3.0, 5.0)
		lifespan = g.clippedNorm(108, 8, 90, 125)
	case domain.DisorderThalassemia:
		hb = g.clippedNorm(10.0, 1.0, 7.0, 12.0)
		mcv = g.clippedNorm(65, 4, 55, 74)
		retic = g.clippedNorm(2.8, 0.8, 1.2, 5.5)
		bilirubin = g.clippedNorm(1.6, 0.4, 0.8, 3.0)
		ldh = g.clippedNorm(280, 50, 180, 450)
		hapto = g.clippedNorm(40, 20, 5, 90)
		ferritin = g.clippedNorm(180, 60, 80, 400)
		tsat = g.clippedNorm(38, 8, 20, 60)
		serumIron = g.clippedNorm(120, 25, 70, 200)
		tibc = g.clippedNorm(300, 35, 220, 380)
		rbcCount = g.clippedNorm(5.6, 0.4, 4.5, 6.8)
		lifespan = g.clippedNorm(75, 10, 50, 100)
	case domain.DisorderSickleCell:
		hb = g.clippedNorm(8.5, 1.0, 6.0, 10.5)
		mcv = g.clippedNorm(88, 5, 75, 100)
		retic = g.clippedNorm(8.0, 2.0, 3.5, 14.0)
		bilirubin = g.clippedNorm(2.6, 0.6, 1.2, 5.0)
		ldh = g.clippedNorm(420, 80, 260, 700)
		hapto = g.clippedNorm(10, 8, 0, 35)
		ferritin = g.clippedNorm(150, 50, 60, 350)
		tsat = g.clippedNorm(32, 8, 15, 55)
		serumIron = g.clippedNorm(105, 25, 60, 180)
		tibc = g.clippedNorm(320, 40, 240, 420)
		rbcCount = g.clippedNorm(3.4, 0.4, 2.4, 4.4)
		lifespan = g.clippedNorm(45, 10, 20, 70)
	case domain.DisorderG6PD:
		hb = g.clippedNorm(11.0, 1.2, 7.5, 13.5)
		mcv = g.clippedNorm(92, 5, 80, 105)
		retic = g.clippedNorm(3.2, 1.0, 1.2, 6.5)
		bilirubin = g.clippedNorm(1.9, 0.5, 0.9, 3.8)
		ldh = g.clippedNorm(310, 60, 190, 500)
		hapto = g.clippedNorm(30, 15, 2, 70)
		ferritin = g.clippedNorm(130, 45, 50, 300)
		tsat = g.clippedNorm(30, 8, 15, 50)
		serumIron = g.clippedNorm(100, 25, 55, 170)
		tibc = g.clippedNorm(330, 40, 250, 430)
		rbcCount = g.clippedNorm(4.0, 0.4, 3.0, 5.0)
		lifespan = g.clippedNorm(80, 12, 50, 110)
	default: // none
		hb = g.clippedNorm(14.5, 1.2, 12.0, 17.5)
		if female {
			hb -= 1.3
		}
		mcv = g.clippedNorm(90, 4, 80, 100)
		retic = g.clippedNorm(1.2, 0.3, 0.5, 2.2)
		bilirubin = g.clippedNorm(0.7, 0.2, 0.2, 1.2)
		ldh = g.clippedNorm(180, 30, 110, 250)
		hapto = g.clippedNorm(120, 30, 50, 200)
		ferritin = g.clippedNorm(110, 45, 30, 300)
		tsat = g.clippedNorm(30, 7, 18, 48)
		serumIron = g.clippedNorm(100, 22, 55, 165)
		tibc = g.clippedNorm(330, 35, 250, 420)
		rbcCount = g.clippedNorm(4.9, 0.4, 4.0, 6.0)
		lifespan = g.clippedNorm(116, 7, 100, 135)
	}

	rec.Haemoglobin = domain.Some(round1(hb))
	rec.RBCCount = g.maybe(0.9, round2(rbcCount))
	rec.MCV = g.maybe(0.9, round1(mcv))
	rec.MCH = g.maybe(0.85, round1(mcv*0.33+g.norm(0, 0.8)))
	rec.MCHC = g.maybe(0.85, round1(g.clippedNorm(34, 1, 30, 37)))
	rec.ReticulocyteCount = g.maybe(0.8, round2(retic))
	rec.WBCCount = g.maybe(0.9, round1(g.clippedNorm(7.0, 1.6, 3.5, 12.0)))
	rec.PlateletCount = g.maybe(0.9, round1(g.clippedNorm(275, 55, 140, 450)))
	rec.SerumIron = g.maybe(0.75, round1(serumIron))
	rec.Ferritin = g.maybe(0.8, round1(ferritin))
	rec.TransferrinSaturation = g.maybe(0.75, round1(tsat))
	rec.TIBC = g.maybe(0.7, round1(tibc))
	rec.Bilirubin = g.maybe(0.8, round2(bilirubin))
	rec.LDH = g.maybe(0.8, round1(ldh))
	rec.Haptoglobin = g.maybe(0.75, round1(hapto))
	rec.RBCLifespanDays = g.maybe(0.75, round1(lifespan))

	// True glycemic control from mean glucose exposure (ADAG relationship),
	// then the measured HbA1c is biased by the RBC lifespan: cells that die
	// young accumulate less glycation, so a shortened lifespan makes the
	// reported value underestimate true control.
	trueHbA1c := (meanGlucose + 46.7) / 28.7
	trueHbA1c = clamp(trueHbA1c, 3.5, 18.0)

	measured := trueHbA1c * lifespanBiasFactor(lifespan)
	measured += g.norm(0, 0.1)
	measured = clamp(measured, 3.0, 19.5)
	rec.HbA1c = domain.Some(round1(measured))

	return domain.TrainingExample{
		Record:    rec,
		Disorder:  disorder,
		TrueHbA1c: round2(trueHbA1c),
	}
}

// lifespanBiasFactor is the multiplicative bias the RBC lifespan imposes on
// a measured HbA1c: 1.0 at the normal 120 days, shrinking linearly as the
// lifespan shortens.
func lifespanBiasFactor(lifespanDays float64) float64 {
	factor := 1.0 - 0.005*(NormalRBCLifespanDays-lifespanDays)
	return clamp(factor, 0.4, 1.1)
}

func (g *SyntheticPatientGenerator) norm(mean, sd float64) float64 {
	return mean + g.rng.NormFloat64()*sd
}

func (g *SyntheticPatientGenerator) clippedNorm(mean, sd, lo, hi float64) float64 {
	return clamp(g.norm(mean, sd), lo, hi)
}

// maybe returns the value as present with probability p, absent otherwise,
// so the models see realistic partial records during training.
func (g *SyntheticPatientGenerator) maybe(p, v float64) domain.OptFloat {
	if g.rng.Float64() < p {
		return domain.Some(v)
	}
	return domain.OptFloat{}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
