// Package i18n renders pathology names for display in English or Spanish.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"golang.org/x/text/unicode/norm"
)

var spanish = map[string]string{
	"Atelectasis":        "Atelectasia",
	"Cardiomegaly":       "Cardiomegalia",
	"Effusion":           "Derrame Pleural",
	"Infiltration":       "Infiltración",
	"Mass":               "Masa",
	"Nodule":             "Nódulo",
	"Pneumonia":          "Neumonía",
	"Pneumothorax":       "Neumotórax",
	"Consolidation":      "Consolidación",
	"Edema":              "Edema",
	"Emphysema":          "Enfisema",
	"Fibrosis":           "Fibrosis",
	"Pleural_Thickening": "Engrosamiento Pleural",
	"Hernia":             "Hernia",
	"No Finding":         "Sin Hallazgos",
}

// UI strings shared by the CLI, server and report.
const (
	MsgDetected        = "detected"
	MsgNotDetected     = "not detected"
	MsgNoVisualization = "no visualization available"
	MsgOriginal        = "Original image"
	MsgOverlay         = "Attention map: %s"
	MsgFindings        = "Findings above threshold: %s"
	MsgNone            = "none"
	MsgRelevance       = "relevance"
)

var spanishMessages = map[string]string{
	MsgDetected:        "detectado",
	MsgNotDetected:     "no detectado",
	MsgNoVisualization: "visualización no disponible",
	MsgOriginal:        "Imagen original",
	MsgOverlay:         "Mapa de atención: %s",
	MsgFindings:        "Hallazgos sobre el umbral: %s",
	MsgNone:            "ninguno",
	MsgRelevance:       "relevancia",
}

// Translator maps pathology labels and UI strings to one language.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
	title   cases.Caser
	reverse map[string]string
}

var supported = []language.Tag{language.English, language.Spanish}

var matcher = language.NewMatcher(supported)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for en, es := range spanish {
		_ = b.SetString(language.English, en, displayName(en))
		_ = b.SetString(language.Spanish, en, es)
	}
	for key, es := range spanishMessages {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Spanish, key, es)
	}
	return b
}

var cat = newCatalog()

// New returns a translator for lang ("en", "es", "es-MX", ...). Unknown
// languages fall back to English.
func New(lang string) *Translator {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, _ := matcher.Match(parsed)
			tag = supported[idx]
		}
	}
	t := &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
		title:   cases.Title(tag),
		reverse: make(map[string]string, len(spanish)),
	}
	for en, es := range spanish {
		t.reverse[norm.NFC.String(strings.ToLower(es))] = en
	}
	return t
}

// Language returns the resolved language tag.
func (t *Translator) Language() language.Tag { return t.tag }

// Label returns the display name of a pathology. Unknown labels are
// title-cased with underscores replaced by spaces.
func (t *Translator) Label(name string) string {
	if _, ok := spanish[name]; ok {
		return t.printer.Sprintf(name)
	}
	return t.title.String(displayName(name))
}

// Message translates one of the Msg constants, formatting args into it.
func (t *Translator) Message(key string, args ...any) string {
	return t.printer.Sprintf(key, args...)
}

// Canonical maps an English or Spanish display name back to the classifier
// label. It accepts any letter case and returns false for unknown names.
func (t *Translator) Canonical(display string) (string, bool) {
	k := norm.NFC.String(strings.ToLower(strings.TrimSpace(display)))
	for en := range spanish {
		if strings.ToLower(en) == k || strings.ToLower(displayName(en)) == k {
			return en, true
		}
	}
	en, ok := t.reverse[k]
	return en, ok
}

// Percent formats a probability with locale-specific decimal separators.
func (t *Translator) Percent(p float32) string {
	return t.printer.Sprintf("%.1f%%", float64(p)*100)
}

func displayName(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}

// Supported lists the language codes with translations.
func Supported() []string {
	out := make([]string, len(supported))
	for i, s := range supported {
		out[i] = s.String()
	}
	return out
}

func (t *Translator) String() string {
	return fmt.Sprintf("i18n.Translator(%s)", t.tag)
}
