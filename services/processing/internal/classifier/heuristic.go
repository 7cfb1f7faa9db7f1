package classifier

import (
	"context"
	"regexp"
	"strings"

	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"
	"digitaltwin/common/textnorm"
)

var (
	headerPattern = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:open\s+)?casting\s+call\s*[:\-]\s*(.+)$`)
	labelPattern  = regexp.MustCompile(`(?i)^\s*(?:[-*\x{2022}]\s*)?(role|title|position|character|location|city|where|company|production|producer|studio|pay|compensation|rate|fee|salary|deadline|apply by|closing date|contact|email|requirements|requirement|looking for)\s*[:\-]\s*(.*)$`)
	bulletPattern = regexp.MustCompile(`^\s*[-*\x{2022}]\s+(.+)$`)
	payPattern    = regexp.MustCompile(`(?i)(?:\$|SAR|AED|USD|EUR|GBP|\x{00a3}|\x{20ac})\s?\d[\d,.]*\s*[kK]?(?:\s*-\s*(?:\$|SAR|AED|USD|EUR|GBP|\x{00a3}|\x{20ac})?\s?\d[\d,.]*\s*[kK]?)?(?:\s*(?:/|per)\s*(?:day|hour|hr|week|project))?`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

var keywords = []string{
	"casting", "audition", "actor", "actress", "extras", "talent",
	"self-tape", "self tape", "voice over", "voiceover", "model", "role",
	// Arabic for casting and acting.
	"كاستينج", "تمثيل",
}

// HeuristicClassifier recognises casting calls with regular expressions and
// keyword scoring. It needs no network and is deterministic.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (h *HeuristicClassifier) Classify(ctx context.Context, text, _ string) (ClassificationResult, error) {
	_, span := tracer.Start(ctx, "HeuristicClassifier.Classify")
	defer span.End()

	fields, header, labels := parseFields(text)
	hits := keywordHits(text)

	var confidence float64
	switch {
	case header:
		confidence = 0.9
	case fields.Title != "" && hits >= 2:
		confidence = 0.45 + 0.1*float64(labels)
	default:
		confidence = 0.1 * float64(hits)
	}
	confidence = clampConfidence(confidence)
	if !header && confidence > 0.85 {
		confidence = 0.85
	}

	span.SetAttributes(
		telemetry.Bool("header", header),
		telemetry.Int("keyword_hits", hits),
	)

	if confidence < 0.5 || fields.Title == "" {
		return ClassificationResult{IsCastingCall: false, Confidence: confidence}, nil
	}
	return ClassificationResult{IsCastingCall: true, Confidence: confidence, Fields: &fields}, nil
}

func keywordHits(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return hits
}

// parseFields reads a "Casting Call: <title>, <location>, <company>" header
// and labelled lines such as "Role: ..." or "Pay: ...". Bullets following an
// empty "Requirements:" label become requirement phrases.
func parseFields(text string) (models.CastingCallFields, bool, int) {
	var f models.CastingCallFields
	header := false
	labels := 0
	inRequirements := false

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			inRequirements = false
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil && !header {
			header = true
			parts := strings.Split(m[1], ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			f.Title = parts[0]
			if len(parts) > 1 {
				f.Location = parts[1]
			}
			if len(parts) > 2 {
				f.Company = strings.Join(parts[2:], ", ")
			}
			continue
		}
		if m := labelPattern.FindStringSubmatch(line); m != nil {
			labels++
			value := strings.TrimSpace(m[2])
			inRequirements = false
			switch strings.ToLower(m[1]) {
			case "role", "title", "position", "character":
				setIfEmpty(&f.Title, value)
			case "location", "city", "where":
				setIfEmpty(&f.Location, value)
			case "company", "production", "producer", "studio":
				setIfEmpty(&f.Company, value)
			case "pay", "compensation", "rate", "fee", "salary":
				setIfEmpty(&f.Compensation, value)
			case "deadline", "apply by", "closing date":
				setIfEmpty(&f.Deadline, value)
			case "contact", "email":
				setIfEmpty(&f.ContactInfo, value)
			default:
				if value == "" {
					inRequirements = true
				} else {
					f.Requirements = append(f.Requirements, splitList(value)...)
				}
			}
			continue
		}
		if inRequirements {
			if m := bulletPattern.FindStringSubmatch(line); m != nil {
				f.Requirements = append(f.Requirements, strings.TrimSpace(m[1]))
				continue
			}
			inRequirements = false
		}
	}

	if f.Compensation == "" {
		f.Compensation = strings.TrimSpace(payPattern.FindString(text))
	}
	if f.ContactInfo == "" {
		f.ContactInfo = emailPattern.FindString(text)
	}
	f.Description = textnorm.CleanText(text)
	return f, header, labels
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
