// Package alerts implements the rule evaluation engine and webhook delivery
// for pagescore alerting. Rules are threshold conditions on a report's metric
// results or task summary; alerts fire and resolve per page URL and are
// delivered to Slack or generic HTTP webhooks.
package alerts
