package cluseragent

import (
	"strings"
)

// Agent est le résultat de l'analyse d'un User-Agent
type Agent struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os"`
	Bot            bool   `json:"bot,omitempty"`
}

// rule associe des jetons du User-Agent à un nom.
// version est le jeton après lequel lire le numéro de version,
// fold rend la comparaison insensible à la casse.
type rule struct {
	tokens  []string
	name    string
	version string
	bot     bool
	fold    bool
}

// L'ordre compte : Edge et Opera s'annoncent aussi comme Chrome,
// Chrome s'annonce aussi comme Safari
var browserRules = []rule{
	{tokens: []string{"GoogleImageProxy"}, name: "Gmail Image Proxy", bot: true},
	{tokens: []string{"YahooMailProxy"}, name: "Yahoo Mail Proxy", bot: true},
	{tokens: []string{"Microsoft Outlook", "ms-office"}, name: "Outlook", version: "Microsoft Outlook "},
	{tokens: []string{"Thunderbird/"}, name: "Thunderbird", version: "Thunderbird/"},
	{tokens: []string{"bot", "crawler", "spider", "slurp", "facebookexternalhit"}, name: "Bot", bot: true, fold: true},
	{tokens: []string{"Edg/", "EdgA/", "EdgiOS/"}, name: "Edge", version: "Edg"},
	{tokens: []string{"OPR/", "Opera"}, name: "Opera", version: "OPR/"},
	{tokens: []string{"SamsungBrowser/"}, name: "Samsung Internet", version: "SamsungBrowser/"},
	{tokens: []string{"YaBrowser/"}, name: "Yandex", version: "YaBrowser/"},
	{tokens: []string{"Vivaldi/"}, name: "Vivaldi", version: "Vivaldi/"},
	{tokens: []string{"Chrome/", "CriOS/"}, name: "Chrome", version: "Chrome/"},
	{tokens: []string{"Firefox/", "FxiOS/"}, name: "Firefox", version: "Firefox/"},
	{tokens: []string{"Safari/"}, name: "Safari", version: "Version/"},
	{tokens: []string{"MSIE ", "Trident/"}, name: "Internet Explorer", version: "MSIE "},
	{tokens: []string{"curl/"}, name: "curl", version: "curl/", bot: true},
	{tokens: []string{"Wget/"}, name: "Wget", version: "Wget/", bot: true},
}

var osRules = []rule{
	{tokens: []string{"Windows Phone"}, name: "Windows Phone"},
	{tokens: []string{"Windows NT 10.0"}, name: "Windows 10/11"},
	{tokens: []string{"Windows NT 6.3"}, name: "Windows 8.1"},
	{tokens: []string{"Windows NT 6.1"}, name: "Windows 7"},
	{tokens: []string{"Windows"}, name: "Windows"},
	{tokens: []string{"iPhone", "iPad", "iPod"}, name: "iOS"},
	{tokens: []string{"Android"}, name: "Android"},
	{tokens: []string{"CrOS"}, name: "Chrome OS"},
	{tokens: []string{"Mac OS X", "Macintosh"}, name: "macOS"},
	{tokens: []string{"Ubuntu"}, name: "Ubuntu"},
	{tokens: []string{"Linux"}, name: "Linux"},
	{tokens: []string{"FreeBSD"}, name: "FreeBSD"},
}

const unknown = "Unknown"

// Parse analyse un User-Agent, la première règle qui correspond gagne
func Parse(ua string) Agent {
	agent := Agent{Browser: unknown, OS: unknown}
	if strings.TrimSpace(ua) == "" {
		return agent
	}

	if r, ok := match(browserRules, ua); ok {
		agent.Browser = r.name
		agent.Bot = r.bot
		if r.version != "" {
			agent.BrowserVersion = extractVersion(ua, r.version)
		}
	}

	if r, ok := match(osRules, ua); ok {
		agent.OS = r.name
	}

	return agent
}

// Label retourne "Navigateur Version"
func (a Agent) Label() string {
	if a.BrowserVersion == "" {
		return a.Browser
	}
	return a.Browser + " " + a.BrowserVersion
}

func match(rules []rule, ua string) (rule, bool) {
	lower := strings.ToLower(ua)
	for _, r := range rules {
		for _, token := range r.tokens {
			if r.fold && strings.Contains(lower, token) {
				return r, true
			}
			if strings.Contains(ua, token) {
				return r, true
			}
		}
	}
	return rule{}, false
}

// extractVersion lit le numéro majeur.mineur après le jeton
func extractVersion(ua, token string) string {
	idx := strings.Index(ua, token)
	if idx == -1 {
		return ""
	}
	rest := ua[idx+len(token):]
	// Edg/, EdgA/ et EdgiOS/ partagent le même préfixe
	if slash := strings.IndexByte(rest, '/'); slash != -1 && slash < 4 {
		rest = rest[slash+1:]
	}

	end := strings.IndexFunc(rest, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end == -1 {
		end = len(rest)
	}
	version := rest[:end]

	parts := strings.SplitN(version, ".", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Trim(strings.Join(parts, "."), ".")
}

// ExtractLanguage extrait la langue préférée d'un en-tête Accept-Language
// (ex: "fr-FR,fr;q=0.9,en-US;q=0.8" -> "fr")
func ExtractLanguage(acceptLang string) string {
	if acceptLang == "" {
		return "unknown"
	}

	parts := strings.Split(acceptLang, ",")
	lang := strings.Split(parts[0], ";")[0]
	lang = strings.Split(lang, "-")[0]
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == "*" {
		return "unknown"
	}
	return lang
}
