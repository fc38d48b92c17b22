package recommendation

import (
	"regexp"
	"strconv"
	"strings"
)

// unknownPriceSentinel marks an item header without a price.
const unknownPriceSentinel = -1

var (
	// Matches: "1. **Blanton's Original Single Barrel** - $74.99"
	itemWithPricePattern = regexp.MustCompile(`^\d+\.\s+\*\*(.*?)\*\*\s*-\s*\$(\d+\.?\d*)`)
	// Matches: "3. **E.H. Taylor**"
	itemPattern    = regexp.MustCompile(`^\d+\.\s+\*\*(.*?)\*\*`)
	numericPattern = regexp.MustCompile(`^\d+$`)
	leadingInt     = regexp.MustCompile(`^[+-]?\d+`)
)

// builder accumulates the fields of the record currently being parsed.
type builder struct {
	started bool
	name    string
	brand   string
	spirit  string
	proof   int
	price   float64
	image   string
	why     string
}

func newBuilder(title string, price float64) builder {
	return builder{
		started: true,
		name:    strings.TrimSpace(title),
		brand:   firstToken(title),
		spirit:  DefaultSpirit,
		price:   price,
		image:   PlaceholderImageURL,
	}
}

func (b builder) record() Record {
	r := Record{
		Name:     b.name,
		ImageURL: b.image,
		Brand:    b.brand,
		Spirit:   b.spirit,
		Proof:    b.proof,
		Why:      b.why,
	}
	if b.price != unknownPriceSentinel {
		r.Price = KnownPrice(b.price)
	}
	return r
}

// Parse extracts recommendation records from an agent reply.
//
// Parsing is line oriented: a numbered bold item ("1. **Name** - $12.34")
// starts a new record and the attribute lines that follow it
// (Proof:, Type:, Image:, Why:) fill that record in until the next item.
// Unrecognized lines are ignored and invalid values fall back to defaults,
// so Parse never fails. Records without a name are dropped.
func Parse(text string) []Record {
	var (
		records []Record
		current builder
	)

	flush := func() {
		if current.started && current.name != "" {
			records = append(records, current.record())
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := itemWithPricePattern.FindStringSubmatch(line); m != nil {
			flush()
			price, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				price = unknownPriceSentinel
			}
			current = newBuilder(m[1], price)
			continue
		}
		if m := itemPattern.FindStringSubmatch(line); m != nil {
			flush()
			current = newBuilder(m[1], unknownPriceSentinel)
			continue
		}

		switch {
		case strings.HasPrefix(line, "Proof:"):
			if v, ok := parseLeadingInt(segment(line)); ok && v > 0 && v <= MaxProof {
				current.proof = v
			}
		case strings.HasPrefix(line, "Type:"):
			if spirit := strings.TrimSpace(segment(line)); spirit != "" && !numericPattern.MatchString(spirit) {
				current.spirit = spirit
			}
		case strings.HasPrefix(line, "Image:"):
			// URLs carry their own colons, keep everything after the label.
			if u := afterLabel(line); validImageURL(u) {
				current.image = u
			}
		case strings.HasPrefix(line, "Why:"):
			if why := afterLabel(line); why != "" {
				current.why = why
			}
		}
	}
	flush()

	for i := range records {
		records[i] = Normalize(records[i])
	}
	return records
}

// segment returns the text between the first and second colon of line.
func segment(line string) string {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// afterLabel returns the trimmed text after the first colon of line.
func afterLabel(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}

// parseLeadingInt parses the integer prefix of s, ignoring trailing text.
func parseLeadingInt(s string) (int, bool) {
	digits := leadingInt.FindString(strings.TrimSpace(s))
	if digits == "" {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}
