/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package handlers implements the REST surface: admission, scan reads and
// writes, lifecycle actions, and the queue peek endpoints.
package handlers

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/images"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
)

// S3Presigner mints the sidecar's upload URL. Satisfied by *s3.Client; nil
// in deployments without a blob store.
type S3Presigner interface {
	PresignPut(ctx context.Context, scanId string) (string, error)
}

// TokenMinter mints the outbound tokens injected into scanner job specs.
type TokenMinter interface {
	SkyDriverToken(ctx context.Context) (string, error)
	EwmsToken(ctx context.Context) (string, error)
}

// Handler carries the dependencies of every route.
type Handler struct {
	store  client.Interface
	ewms   ewms.Interface
	k8s    k8s.Interface
	images *images.Resolver
	s3     S3Presigner
	tokens TokenMinter

	// restAddress is skydriver's externally reachable URL, baked into job
	// specs so scanners can call home.
	restAddress string
}

// NewHandler wires a Handler from its collaborators.
func NewHandler(store client.Interface, ewmsClient ewms.Interface, k8sClient k8s.Interface,
	resolver *images.Resolver, presigner S3Presigner, minter TokenMinter) *Handler {
	return &Handler{
		store:       store,
		ewms:        ewmsClient,
		k8s:         k8sClient,
		images:      resolver,
		s3:          presigner,
		tokens:      minter,
		restAddress: fmt.Sprintf("http://%s:%d", config.GetRestHost(), config.GetRestPort()),
	}
}

// ccTokenMinter mints real tokens through the client-credentials grant.
type ccTokenMinter struct {
	skydriver *clientcredentials.Config
	ewms      *clientcredentials.Config
}

// NewTokenMinter builds the production TokenMinter from configuration.
func NewTokenMinter() TokenMinter {
	return &ccTokenMinter{
		skydriver: &clientcredentials.Config{
			ClientID:     config.GetKeycloakClientID(),
			ClientSecret: config.GetKeycloakClientSecret(),
			TokenURL:     config.GetKeycloakOIDCURL() + "/protocol/openid-connect/token",
		},
		ewms: &clientcredentials.Config{
			ClientID:     config.GetEwmsClientID(),
			ClientSecret: config.GetEwmsClientSecret(),
			TokenURL:     config.GetEwmsTokenURL(),
		},
	}
}

func (m *ccTokenMinter) SkyDriverToken(ctx context.Context) (string, error) {
	tok, err := m.skydriver.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (m *ccTokenMinter) EwmsToken(ctx context.Context) (string, error) {
	tok, err := m.ewms.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
