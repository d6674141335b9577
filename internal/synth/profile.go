package synth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a book declares no language or an unknown one.
const DefaultLanguage = "en"

// Profile selects the voice used for one language.
type Profile struct {
	Language   string `yaml:"-"`
	Voice      string `yaml:"voice"`
	Speaker    string `yaml:"speaker,omitempty"`
	SampleRate int    `yaml:"sample_rate,omitempty"`
}

// Profiles maps a language code to the profile used for it.
type Profiles map[string]Profile

// DefaultProfiles returns the built-in language table.
func DefaultProfiles() Profiles {
	voices := map[string]string{
		"en": "tts_models/en/ljspeech/tacotron2-DDC",
		"es": "tts_models/es/mai/tacotron2-DDC",
		"fr": "tts_models/fr/mai/tacotron2-DDC",
		"de": "tts_models/de/thorsten/tacotron2-DCA",
		"it": "tts_models/it/mai_female/glow-tts",
		"pt": "tts_models/pt/cv/vits",
		"ru": "tts_models/ru/multi-dataset/vits",
		"zh": "tts_models/zh-CN/baker/tacotron2-DDC-GST",
		"ja": "tts_models/ja/kokoro/tacotron2-DDC",
		"ko": "tts_models/ko/kss/vits",
		"ar": "tts_models/ar/cv/vits",
		"hi": "tts_models/hi/cv/vits",
	}
	p := make(Profiles, len(voices))
	for lang, voice := range voices {
		p[lang] = Profile{Language: lang, Voice: voice, SampleRate: 22050}
	}
	return p
}

// LoadProfiles reads a YAML language table of the form
//
//	en:
//	  voice: en_US-lessac-medium
//	  speaker: "0"
//	  sample_rate: 22050
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("read voice profiles: %w", err)
	}
	var raw map[string]Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse voice profiles: %w", err)
	}
	p := make(Profiles, len(raw))
	for lang, prof := range raw {
		key := normalizeLanguage(lang)
		if prof.Voice == "" {
			return nil, fmt.Errorf("voice profiles: language %q has no voice", lang)
		}
		prof.Language = key
		p[key] = prof
	}
	return p, nil
}

// Lookup returns the profile for language, falling back to the base language
// ("pt-BR" to "pt") and then to DefaultLanguage.
func (p Profiles) Lookup(language string) (Profile, bool) {
	lang := normalizeLanguage(language)
	if prof, ok := p[lang]; ok {
		return prof, true
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		if prof, ok := p[base]; ok {
			return prof, true
		}
	}
	prof, ok := p[DefaultLanguage]
	return prof, ok
}

func normalizeLanguage(lang string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(lang)), "_", "-")
}
