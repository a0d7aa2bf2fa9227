package syncer

import (
	"strconv"
	"strings"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// TranslationFallback names one (resource id, language) pair upserted as a
// placeholder when the translation upstream 5xxes.
type TranslationFallback struct {
	ResourceID   int
	LanguageCode string
}

// ParseTranslationFallbacks parses the "id:lang,id:lang" environment form.
func ParseTranslationFallbacks(raw string) ([]TranslationFallback, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []TranslationFallback
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, errs.Newf(errs.KindValidation, "malformed translation fallback %q", part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || id <= 0 {
			return nil, errs.Newf(errs.KindValidation, "invalid resource id in fallback %q", part)
		}
		lang := strings.ToLower(strings.TrimSpace(fields[1]))
		if lang == "" {
			return nil, errs.Newf(errs.KindValidation, "missing language in fallback %q", part)
		}
		out = append(out, TranslationFallback{ResourceID: id, LanguageCode: lang})
	}
	return out, nil
}
