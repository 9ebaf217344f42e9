package store

import "fmt"

// KeyPrefix is prepended to every key this module touches.
const KeyPrefix = "waf:"

func key(parts string) string { return KeyPrefix + parts }

// Vhost keys.
func KeyVhostsIndex() string          { return key("vhosts:index") }
func KeyVhostConfig(id string) string { return key("vhosts:config:" + id) }
func KeyVhostHostsExact() string      { return key("vhosts:hosts:exact") }
func KeyVhostHostsWildcard() string   { return key("vhosts:hosts:wildcard") }

// Global-scope endpoint keys.
func KeyEndpointsIndex() string          { return key("endpoints:index") }
func KeyEndpointConfig(id string) string { return key("endpoints:config:" + id) }
func KeyEndpointPathsExact() string      { return key("endpoints:paths:exact") }
func KeyEndpointPathsPrefix() string     { return key("endpoints:paths:prefix") }
func KeyEndpointPathsRegex() string      { return key("endpoints:paths:regex") }

// Vhost-scoped endpoint keys.
func KeyVhostEndpointsIndex(vhostID string) string {
	return key(fmt.Sprintf("vhosts:endpoints:%s:index", vhostID))
}
func KeyVhostEndpointPathsExact(vhostID string) string {
	return key(fmt.Sprintf("vhosts:endpoints:%s:paths:exact", vhostID))
}
func KeyVhostEndpointPathsPrefix(vhostID string) string {
	return key(fmt.Sprintf("vhosts:endpoints:%s:paths:prefix", vhostID))
}
func KeyVhostEndpointPathsRegex(vhostID string) string {
	return key(fmt.Sprintf("vhosts:endpoints:%s:paths:regex", vhostID))
}

// Defense profile keys.
func KeyProfilesIndex() string          { return key("defense_profiles:index") }
func KeyProfileConfig(id string) string { return key("defense_profiles:config:" + id) }
func KeyProfilesBuiltinVersion() string { return key("defense_profiles:builtin_version") }

// Attack signature keys.
func KeySignaturesIndex() string          { return key("attack_signatures:index") }
func KeySignatureConfig(id string) string { return key("attack_signatures:config:" + id) }
func KeySignaturesBuiltinVersion() string { return key("attack_signatures:builtin_version") }

// Fingerprint profile keys.
func KeyFingerprintsIndex() string          { return key("fingerprint:profiles:index") }
func KeyFingerprintConfig(id string) string { return key("fingerprint:profiles:config:" + id) }
func KeyFingerprintsBuiltin() string        { return key("fingerprint:profiles:builtin") }

// Shared detection state.
func KeyKeywordsBlocked() string { return key("keywords:blocked") }
func KeyKeywordsFlagged() string { return key("keywords:flagged") }
func KeyHashesBlocked() string   { return key("hashes:blocked") }
func KeyWhitelistIPs() string    { return key("whitelist:ips") }

// Global config hashes / JSON strings.
func KeyConfigThresholds() string  { return key("config:thresholds") }
func KeyConfigRouting() string     { return key("config:routing") }
func KeyConfigGeoIP() string       { return key("config:geoip") }
func KeyConfigReputation() string  { return key("config:reputation") }
func KeyConfigTimingToken() string { return key("config:timing_token") }
func KeyConfigWebhooks() string    { return key("config:webhooks") }
func KeyCaptchaConfig() string     { return key("captcha:config") }

// Cluster coordination keys.
func KeyClusterInstances() string { return key("cluster:instances") }
func KeyInstanceHeartbeat(id string) string {
	return key(fmt.Sprintf("cluster:instance:%s:heartbeat", id))
}
func KeyClusterLeader() string { return key("cluster:leader") }

// Metrics keys.
func KeyMetricsInstance(id string) string { return key("metrics:instance:" + id) }
func KeyMetricsInstancePattern() string   { return key("metrics:instance:*") }
func KeyMetricsInstanceUpdated(id string) string {
	return key("metrics:instance:" + id + ":updated")
}
func KeyMetricsGlobal() string        { return key("metrics:global") }
func KeyMetricsGlobalUpdated() string { return key("metrics:global:updated") }

// Field learner keys.
func KeyLearnedFields(endpointID string) string {
	return key("learning:fields:" + endpointID)
}
