/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

// Environment keys. Every tunable is read through viper with AutomaticEnv,
// so each constant below doubles as the environment variable name.
const (
	// mongo
	mongoHost     = "MONGODB_HOST"
	mongoPort     = "MONGODB_PORT"
	mongoAuthUser = "MONGODB_AUTH_USER"
	mongoAuthPass = "MONGODB_AUTH_PASS"
	mongoDBName   = "MONGODB_DATABASE_NAME"

	// rest
	restHost      = "REST_HOST"
	restPort      = "REST_PORT"
	authAudience  = "AUTH_AUDIENCE"
	authOpenIDURL = "AUTH_OPENID_URL"

	// k8s
	k8sNamespace                = "K8S_NAMESPACE"
	k8sSecretName               = "K8S_SECRET_NAME"
	k8sApplicationName          = "K8S_APPLICATION_NAME"
	k8sTTLSecondsAfterFinished  = "K8S_TTL_SECONDS_AFTER_FINISHED"
	k8sActiveDeadlineSeconds    = "K8S_ACTIVE_DEADLINE_SECONDS"
	k8sScannerCPULimit          = "K8S_SCANNER_CPU_LIMIT"
	k8sScannerCPURequest        = "K8S_SCANNER_CPU_REQUEST"
	k8sScannerInitCPULimit      = "K8S_SCANNER_INIT_CPU_LIMIT"
	k8sScannerInitCPURequest    = "K8S_SCANNER_INIT_CPU_REQUEST"
	k8sScannerSidecarCPULimit   = "K8S_SCANNER_SIDECAR_CPU_LIMIT"
	k8sScannerSidecarCPURequest = "K8S_SCANNER_SIDECAR_CPU_REQUEST"

	// ewms
	ewmsAddress      = "EWMS_ADDRESS"
	ewmsTokenURL     = "EWMS_TOKEN_URL"
	ewmsClientID     = "EWMS_CLIENT_ID"
	ewmsClientSecret = "EWMS_CLIENT_SECRET"

	// s3
	s3URL         = "S3_URL"
	s3AccessKeyID = "S3_ACCESS_KEY_ID"
	s3SecretKey   = "S3_SECRET_KEY"
	s3Bucket      = "S3_BUCKET"
	s3ExpiresIn   = "S3_EXPIRES_IN"

	// keycloak (outbound client-credentials grants, per role)
	keycloakOIDCURL      = "KEYCLOAK_OIDC_URL"
	keycloakClientID     = "KEYCLOAK_CLIENT_ID"
	keycloakClientSecret = "KEYCLOAK_CLIENT_SECRET"

	// observability
	grafanaDashboardBaseURL = "GRAFANA_DASHBOARD_BASEURL"

	// runner tunables
	scanBacklogRunnerDelay      = "SCAN_BACKLOG_RUNNER_DELAY"
	scanBacklogRunnerShortDelay = "SCAN_BACKLOG_RUNNER_SHORT_DELAY"
	scanBacklogMaxAttempts      = "SCAN_BACKLOG_MAX_ATTEMPTS"
	scanBacklogPendingEntryTTL  = "SCAN_BACKLOG_PENDING_ENTRY_TTL_REVIVE"
	scanPodWatchdogDelay        = "SCAN_POD_WATCHDOG_DELAY"
	waitBeforeTeardown          = "WAIT_BEFORE_TEARDOWN"

	// images
	clientManagerImageWithTag = "CLIENTMANAGER_IMAGE_WITH_TAG"
	thisImageWithTag          = "THIS_IMAGE_WITH_TAG"
	scannerImageRepository    = "SCANNER_IMAGE_REPOSITORY"

	// clusters
	knownClustersConfig = "KNOWN_CLUSTERS_CONFIG"

	// test mode
	ciMode = "CI"
)
