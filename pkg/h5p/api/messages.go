package api

import (
	"net/http"
	"strings"
)

// Flash message keys
const (
	MsgContentCreated = "content_created"
	MsgUploadFailed   = "upload_failed"
)

// DefaultLocale is used when neither the request nor the configuration names a supported locale
const DefaultLocale = "en"

var messages = map[string]map[string]string{
	"en": {
		MsgContentCreated: "Content Created",
		MsgUploadFailed:   "An Error Occurred While Uploading The Content!",
	},
	"tr": {
		MsgContentCreated: "İçerik Oluşturuldu",
		MsgUploadFailed:   "İçerik Yüklenirken Bir Hata Oluştu!",
	},
}

// Localize returns the message for key in locale, falling back to English
func Localize(locale, key string) string {
	if msg, ok := messages[locale][key]; ok {
		return msg
	}
	if msg, ok := messages[DefaultLocale][key]; ok {
		return msg
	}
	return key
}

// requestLocale picks the first supported language of the "lang" query
// parameter or the Accept-Language header.
func requestLocale(r *http.Request, fallback string) string {
	candidates := []string{r.URL.Query().Get("lang")}
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		candidates = append(candidates, tag)
	}
	for _, tag := range candidates {
		base, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if _, ok := messages[base]; ok {
			return base
		}
	}
	if _, ok := messages[fallback]; ok {
		return fallback
	}
	return DefaultLocale
}
