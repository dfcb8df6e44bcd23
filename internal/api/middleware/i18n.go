package middleware

import (
	"embed"
	"encoding/json"
	"io/fs"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Kontextschlüssel
const (
	ContextLanguage  = "language"
	ContextLocalizer = "localizer"
)

// I18nConfig definiert die Konfiguration für die i18n-Middleware
type I18nConfig struct {
	DefaultLanguage string
}

// Translator hält die Übersetzungsfunktionalität
type Translator struct {
	bundle     *i18n.Bundle
	matcher    language.Matcher
	tags       []language.Tag
	localizers map[string]*i18n.Localizer
	fallback   string
}

// NewTranslator lädt alle eingebetteten Übersetzungsdateien
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	defaultTag, err := language.Parse(config.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[string]*i18n.Localizer),
		fallback:   defaultTag.String(),
	}

	// Standardsprache zuerst, damit der Matcher auf sie zurückfällt
	t.tags = append(t.tags, defaultTag)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, err
		}
		// Sprachcode aus dem Dateinamen extrahieren (z.B. "de.json" -> "de")
		langCode := strings.TrimSuffix(path.Base(file), path.Ext(file))
		tag, err := language.Parse(langCode)
		if err != nil {
			return nil, err
		}
		t.localizers[tag.String()] = i18n.NewLocalizer(bundle, tag.String())
		if tag != defaultTag {
			t.tags = append(t.tags, tag)
		}
	}

	if _, ok := t.localizers[t.fallback]; !ok {
		t.localizers[t.fallback] = i18n.NewLocalizer(bundle, t.fallback)
	}
	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Languages gibt die unterstützten Sprachen zurück
func (t *Translator) Languages() []string {
	langs := make([]string, len(t.tags))
	for i, tag := range t.tags {
		langs[i] = tag.String()
	}
	return langs
}

// Resolve wählt die beste unterstützte Sprache für ?lang= oder Accept-Language
func (t *Translator) Resolve(query, acceptLanguage string) string {
	candidates := make([]language.Tag, 0, 4)
	if query != "" {
		if tag, err := language.Parse(query); err == nil {
			candidates = append(candidates, tag)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			candidates = append(candidates, tags...)
		}
	}
	if len(candidates) == 0 {
		return t.fallback
	}
	_, index, confidence := t.matcher.Match(candidates...)
	if confidence == language.No {
		return t.fallback
	}
	return t.tags[index].String()
}

// Translate übersetzt eine Nachricht; unbekannte Schlüssel werden unverändert zurückgegeben
func (t *Translator) Translate(lang, messageID string) string {
	localizer, ok := t.localizers[lang]
	if !ok {
		localizer = t.localizers[t.fallback]
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		log.Debugf("Missing translation for %q (%s): %v", messageID, lang, err)
		return messageID
	}
	return msg
}

// I18n erstellt eine Middleware für die Internationalisierung
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := translator.Resolve(c.Query("lang"), c.GetHeader("Accept-Language"))
		c.Set(ContextLanguage, lang)
		c.Set(ContextLocalizer, translator)
		c.Header("Content-Language", lang)
		c.Next()
	}
}

// T übersetzt eine Nachricht in die Sprache der aktuellen Anfrage
func T(c *gin.Context, messageID string) string {
	value, ok := c.Get(ContextLocalizer)
	if !ok {
		return messageID
	}
	translator, ok := value.(*Translator)
	if !ok {
		return messageID
	}
	return translator.Translate(c.GetString(ContextLanguage), messageID)
}
