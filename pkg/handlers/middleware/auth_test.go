/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package middleware

import (
	"testing"

	"gotest.tools/assert"
)

func TestGrantedRole(t *testing.T) {
	userToken := &tokenClaims{Roles: []string{RoleUser}}
	realmToken := &tokenClaims{}
	realmToken.RealmAccess.Roles = []string{RoleSystem}
	emptyToken := &tokenClaims{}

	role, ok := grantedRole(userToken, []string{RoleUser, RoleSystem})
	assert.Assert(t, ok)
	assert.Equal(t, role, RoleUser)

	// keycloak puts roles under realm_access; both claim shapes count
	role, ok = grantedRole(realmToken, []string{RoleUser, RoleSystem})
	assert.Assert(t, ok)
	assert.Equal(t, role, RoleSystem)

	// a system token does not satisfy a user-only route
	_, ok = grantedRole(realmToken, []string{RoleUser})
	assert.Assert(t, !ok)

	_, ok = grantedRole(emptyToken, []string{RoleUser, RoleSystem})
	assert.Assert(t, !ok)
}
