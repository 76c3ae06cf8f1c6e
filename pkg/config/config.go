/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Init binds the process environment into viper. A config file is optional;
// environment variables always win so the container deployment can override
// anything without shipping a file.
func Init(configPath string) error {
	viper.AutomaticEnv()
	if configPath == "" {
		return nil
	}
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("config path: %s, err: %v", configPath, err)
	}
	return nil
}

// SetValue sets a configuration value for the specified key. Tests use it to
// pin tunables without touching the environment.
func SetValue(key string, value any) {
	viper.Set(key, value)
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getSeconds(key string, defaultValue time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return time.Duration(viper.GetInt(key)) * time.Second
}

// IsCIMode returns whether the process runs under the test harness. CI mode
// disables token verification and shortens the runner delays.
func IsCIMode() bool {
	return getBool(ciMode, false)
}

// GetMongoHost returns the MongoDB host.
func GetMongoHost() string {
	return getString(mongoHost, "localhost")
}

// GetMongoPort returns the MongoDB port.
func GetMongoPort() int {
	return getInt(mongoPort, 27017)
}

// GetMongoAuthUser returns the MongoDB username, empty for no auth.
func GetMongoAuthUser() string {
	return getString(mongoAuthUser, "")
}

// GetMongoAuthPass returns the MongoDB password.
func GetMongoAuthPass() string {
	return getString(mongoAuthPass, "")
}

// GetMongoDBName returns the database holding the scan collections.
func GetMongoDBName() string {
	return getString(mongoDBName, "skydriver")
}

// GetMongoURI assembles the connection string from host/port/credentials.
func GetMongoURI() string {
	auth := ""
	if GetMongoAuthUser() != "" {
		auth = fmt.Sprintf("%s:%s@", GetMongoAuthUser(), GetMongoAuthPass())
	}
	return fmt.Sprintf("mongodb://%s%s:%d", auth, GetMongoHost(), GetMongoPort())
}

// GetRestHost returns the address the REST server binds to.
func GetRestHost() string {
	return getString(restHost, "localhost")
}

// GetRestPort returns the REST server port.
func GetRestPort() int {
	return getInt(restPort, 8080)
}

// GetAuthAudience returns the expected audience of inbound bearer tokens.
func GetAuthAudience() string {
	return getString(authAudience, "skydriver")
}

// GetAuthOpenIDURL returns the OIDC issuer used to verify inbound tokens.
// Empty disables verification (CI only).
func GetAuthOpenIDURL() string {
	return getString(authOpenIDURL, "")
}

// GetK8sNamespace returns the namespace scanner jobs are created in.
func GetK8sNamespace() string {
	return getString(k8sNamespace, "skydriver")
}

// GetK8sSecretName returns the secret referenced by scanner job env vars.
func GetK8sSecretName() string {
	return getString(k8sSecretName, "skydriver-secrets")
}

// GetK8sApplicationName returns the application label stamped on jobs.
func GetK8sApplicationName() string {
	return getString(k8sApplicationName, "skydriver")
}

// GetK8sTTLSecondsAfterFinished returns the finished-job retention.
func GetK8sTTLSecondsAfterFinished() int32 {
	return int32(getInt(k8sTTLSecondsAfterFinished, 600))
}

// GetK8sActiveDeadlineSeconds returns the scanner job runtime ceiling.
func GetK8sActiveDeadlineSeconds() int64 {
	return int64(getInt(k8sActiveDeadlineSeconds, 2*24*60*60))
}

// GetScannerCPULimit returns the scanner server container cpu limit.
func GetScannerCPULimit() string {
	return getString(k8sScannerCPULimit, "1")
}

// GetScannerCPURequest returns the scanner server container cpu request.
func GetScannerCPURequest() string {
	return getString(k8sScannerCPURequest, "200m")
}

// GetScannerInitCPULimit returns the init container cpu limit.
func GetScannerInitCPULimit() string {
	return getString(k8sScannerInitCPULimit, "250m")
}

// GetScannerInitCPURequest returns the init container cpu request.
func GetScannerInitCPURequest() string {
	return getString(k8sScannerInitCPURequest, "50m")
}

// GetScannerSidecarCPULimit returns the sidecar container cpu limit.
func GetScannerSidecarCPULimit() string {
	return getString(k8sScannerSidecarCPULimit, "250m")
}

// GetScannerSidecarCPURequest returns the sidecar container cpu request.
func GetScannerSidecarCPURequest() string {
	return getString(k8sScannerSidecarCPURequest, "50m")
}

// GetEwmsAddress returns the EWMS base URL.
func GetEwmsAddress() string {
	return getString(ewmsAddress, "")
}

// GetEwmsTokenURL returns the token endpoint for the EWMS client grant.
func GetEwmsTokenURL() string {
	return getString(ewmsTokenURL, "")
}

// GetEwmsClientID returns the EWMS oauth2 client id.
func GetEwmsClientID() string {
	return getString(ewmsClientID, "")
}

// GetEwmsClientSecret returns the EWMS oauth2 client secret.
func GetEwmsClientSecret() string {
	return getString(ewmsClientSecret, "")
}

// GetS3URL returns the S3 endpoint.
func GetS3URL() string {
	return getString(s3URL, "")
}

// GetS3AccessKeyID returns the S3 access key.
func GetS3AccessKeyID() string {
	return getString(s3AccessKeyID, "")
}

// GetS3SecretKey returns the S3 secret key.
func GetS3SecretKey() string {
	return getString(s3SecretKey, "")
}

// GetS3Bucket returns the bucket holding scanner startup objects.
func GetS3Bucket() string {
	return getString(s3Bucket, "")
}

// GetS3ExpiresIn returns the presigned URL lifetime.
func GetS3ExpiresIn() time.Duration {
	return getSeconds(s3ExpiresIn, 24*time.Hour)
}

// GetKeycloakOIDCURL returns the issuer for outbound client-credential grants.
func GetKeycloakOIDCURL() string {
	return getString(keycloakOIDCURL, "")
}

// GetKeycloakClientID returns the client id used for self-calls (watchdog).
func GetKeycloakClientID() string {
	return getString(keycloakClientID, "")
}

// GetKeycloakClientSecret returns the matching client secret.
func GetKeycloakClientSecret() string {
	return getString(keycloakClientSecret, "")
}

// GetGrafanaDashboardBaseURL returns the dashboard link base advertised in
// scan status responses, empty when no grafana is deployed.
func GetGrafanaDashboardBaseURL() string {
	return getString(grafanaDashboardBaseURL, "")
}

// GetBacklogRunnerDelay returns the long delay: heartbeat interval and the
// low-priority admission gate period.
func GetBacklogRunnerDelay() time.Duration {
	if IsCIMode() {
		return getSeconds(scanBacklogRunnerDelay, 1*time.Second)
	}
	return getSeconds(scanBacklogRunnerDelay, 10*time.Minute)
}

// GetBacklogRunnerShortDelay returns the per-tick sleep of the backlog runner.
func GetBacklogRunnerShortDelay() time.Duration {
	if IsCIMode() {
		return getSeconds(scanBacklogRunnerShortDelay, 1*time.Second)
	}
	return getSeconds(scanBacklogRunnerShortDelay, 5*time.Second)
}

// GetBacklogMaxAttempts returns how many claims an entry survives before it
// is purged.
func GetBacklogMaxAttempts() int {
	return getInt(scanBacklogMaxAttempts, 3)
}

// GetBacklogPendingEntryTTL returns how long a claimed entry stays invisible
// before it may be re-claimed.
func GetBacklogPendingEntryTTL() time.Duration {
	return getSeconds(scanBacklogPendingEntryTTL, 5*time.Minute)
}

// GetPodWatchdogDelay returns the watchdog tick interval.
func GetPodWatchdogDelay() time.Duration {
	if IsCIMode() {
		return getSeconds(scanPodWatchdogDelay, 1*time.Second)
	}
	return getSeconds(scanPodWatchdogDelay, 5*time.Minute)
}

// GetWaitBeforeTeardown returns the pause between acknowledging a final
// result and scheduling the stopper job.
func GetWaitBeforeTeardown() time.Duration {
	return getSeconds(waitBeforeTeardown, 60*time.Second)
}

// GetClientManagerImageWithTag returns the image used by the ewms-init and
// stopper containers. Required in production.
func GetClientManagerImageWithTag() string {
	return getString(clientManagerImageWithTag, "")
}

// GetThisImageWithTag returns the running SkyDriver image, for self-reference
// in the stopper job.
func GetThisImageWithTag() string {
	return getString(thisImageWithTag, "")
}

// GetScannerImageRepository returns the registry repository that docker_tag
// values resolve against.
func GetScannerImageRepository() string {
	return getString(scannerImageRepository, "icecube/skymap_scanner")
}

// GetKnownClustersConfig returns the path of the known-cluster registry file.
func GetKnownClustersConfig() string {
	return getString(knownClustersConfig, "")
}

// SplitCSV splits a comma separated value, dropping blanks.
func SplitCSV(val string) []string {
	var result []string
	for _, item := range strings.Split(val, ",") {
		if trim := strings.TrimSpace(item); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}
