package clnetwork

import "strings"

const (
	NetworkPrivate     = "Private Network"
	NetworkMobile      = "Mobile Network"
	NetworkBusiness    = "Business Network"
	NetworkResidential = "Residential Network"
	NetworkIPv4        = "IPv4 Network"
	NetworkIPv6        = "IPv6 Network"
)

// networkRule associe une sous-chaîne de l'organisation à un type de réseau
type networkRule struct {
	contains    string
	networkType string
}

// Règles évaluées dans l'ordre, la première qui correspond gagne
var ipv4Rules = []networkRule{
	{"mobile", NetworkMobile},
	{"business", NetworkBusiness},
	{"corporate", NetworkBusiness},
}

var ipv6Rules = []networkRule{
	{"mobile", NetworkMobile},
}

// classifyOrg applique les règles sur le nom d'organisation de l'opérateur
func classifyOrg(rules []networkRule, org string) string {
	org = strings.ToLower(org)
	for _, rule := range rules {
		if strings.Contains(org, rule.contains) {
			return rule.networkType
		}
	}
	return NetworkResidential
}

func rulesFor(family Family) []networkRule {
	if family == FamilyIPv6 {
		return ipv6Rules
	}
	return ipv4Rules
}
