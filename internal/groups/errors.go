package groups

import "github.com/mariantrack/backend/internal/apperr"

// Membership rejections.
var (
	ErrGroupNotFound    = apperr.NotFound("group not found")
	ErrUserNotFound     = apperr.NotFound("user not found")
	ErrGroupArchived    = apperr.Conflict("group is archived")
	ErrUserNotApproved  = apperr.Conflict("user is not approved")
	ErrNotIncubatee     = apperr.Conflict("only incubatees can join a startup group")
	ErrAlreadyInGroup   = apperr.Conflict("user already belongs to a group")
	ErrGroupHasPM       = apperr.Conflict("group already has a Project Manager")
	ErrNotMember        = apperr.NotFound("user is not a member of this group")
	ErrInvalidGroupRole = apperr.Invalid("group role must be Project Manager, System Analyst or Developer")
	ErrNotPortfolioMgr  = apperr.Invalid("portfolio manager must be an approved Portfolio Manager")
)
