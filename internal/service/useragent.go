package service

import (
	"regexp"
	"strings"
)

// Типы устройств.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// UnknownAgent — значение для пустого User-Agent.
const UnknownAgent = "unknown"

var (
	tabletRe        = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
	androidRe       = regexp.MustCompile(`(?i)android`)
	androidMobileRe = regexp.MustCompile(`(?i)android.*mobi`)
	mobileRe        = regexp.MustCompile(`Mobile|Android|iP(hone|od)|IEMobile|BlackBerry|Kindle|Silk-Accelerated|(hpw|web)OS|Opera M(obi|ini)`)
)

// ClassifyDevice определяет тип устройства по User-Agent.
// Android без признака "mobi" считается планшетом.
func ClassifyDevice(ua string) string {
	if ua == "" {
		return UnknownAgent
	}
	if tabletRe.MatchString(ua) || (androidRe.MatchString(ua) && !androidMobileRe.MatchString(ua)) {
		return DeviceTablet
	}
	if mobileRe.MatchString(ua) {
		return DeviceMobile
	}
	return DeviceDesktop
}

// browserRules проверяются по порядку: Edge и Opera содержат "Chrome",
// Chrome содержит "Safari".
var browserRules = []struct {
	token, name string
}{
	{"Edg/", "Edge"},
	{"Edge/", "Edge"},
	{"OPR/", "Opera"},
	{"Opera", "Opera"},
	{"SamsungBrowser/", "Samsung Internet"},
	{"FxiOS/", "Firefox"},
	{"Firefox/", "Firefox"},
	{"CriOS/", "Chrome"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
	{"MSIE ", "Internet Explorer"},
	{"Trident/", "Internet Explorer"},
}

// ClassifyBrowser возвращает семейство браузера или исходную строку,
// если семейство не распознано.
func ClassifyBrowser(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return UnknownAgent
	}
	for _, r := range browserRules {
		if strings.Contains(ua, r.token) {
			return r.name
		}
	}
	return ua
}
