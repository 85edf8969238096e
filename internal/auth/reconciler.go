package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// RoleSource records where a resolved role came from.
type RoleSource string

const (
	SourceMetadata     RoleSource = "metadata"
	SourceRPC          RoleSource = "rpc"
	SourceProfileQuery RoleSource = "profile_query"
	SourceDefault      RoleSource = "default"
)

// Resolution is the effective identity computed for one session.
type Resolution struct {
	UserID     string
	Role       Role
	RawRole    string
	Source     RoleSource
	Legacy     bool
	CompanyID  string
	HasCompany bool
	// Profile is the freshest profile seen while resolving; nil when none was available.
	Profile  *Profile
	Degraded bool
	// Problems lists the taxonomy errors observed. None of them is fatal.
	Problems []error
}

// Err joins the recorded problems, or returns nil when resolution was clean.
func (r Resolution) Err() error {
	return errors.Join(r.Problems...)
}

// Has reports whether target is among the recorded problems.
func (r Resolution) Has(target error) bool {
	for _, problem := range r.Problems {
		if errors.Is(problem, target) {
			return true
		}
	}
	return false
}

// Reconciler resolves the effective role and company linkage of a session from the session
// metadata, the privileged role RPC and the profile table, in that order.
type Reconciler struct {
	profiles ProfileStore
	logger   *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(profiles ProfileStore, logger *zap.Logger) *Reconciler {
	if profiles == nil {
		panic("auth: profile store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{profiles: profiles, logger: logger}
}

// Resolve computes the effective identity for session. cached is the locally mirrored profile
// and may be nil or belong to another user, in which case it is ignored. The only error
// returned is ErrNotAuthenticated; every backend failure degrades into the Resolution.
func (r *Reconciler) Resolve(ctx context.Context, session *Session, cached *Profile) (Resolution, error) {
	userID := session.UserID()
	if userID == "" {
		return Resolution{Problems: []error{ErrNotAuthenticated}}, ErrNotAuthenticated
	}
	if cached != nil && cached.ID != userID {
		cached = nil
	}
	ctx = ContextWithSession(ctx, session)
	logger := r.logger.With(zap.String("user_id", userID))

	res := Resolution{UserID: userID, Profile: cached.Clone()}
	var (
		fetched     *Profile
		queried     bool
		sourceFails int
	)

	accept := func(value RoleValue, source RoleSource) bool {
		if value.Raw == "" {
			return false
		}
		if !value.Known {
			res.Degraded = true
			logger.Warn("auth: unrecognised role value",
				zap.String("source", string(source)),
				zap.String("raw_role", value.Raw),
			)
			return false
		}
		res.Role = value.Role
		res.RawRole = value.Raw
		res.Source = source
		res.Legacy = value.Legacy
		if value.Legacy {
			logger.Info("auth: legacy role value mapped",
				zap.String("source", string(source)),
				zap.String("raw_role", value.Raw),
				zap.String("role", value.Role.String()),
			)
		}
		return true
	}

	queryProfile := func() {
		if queried {
			return
		}
		queried = true
		profile, err := r.profiles.GetProfile(ctx, userID)
		switch {
		case err == nil:
			fetched = profile
		case errors.Is(err, ErrProfileNotFound):
			logger.Debug("auth: profile row not yet created")
		default:
			sourceFails++
			logger.Warn("auth: profile query failed", zap.Error(err))
		}
	}

	resolved := accept(ParseRole(session.MetadataString(MetadataRole)), SourceMetadata)

	if !resolved {
		raw, err := r.profiles.CurrentRoleSafely(ctx)
		if err != nil {
			sourceFails++
			logger.Warn("auth: privileged role lookup failed", zap.Error(err))
		} else {
			resolved = accept(ParseRole(raw), SourceRPC)
		}
	}

	if !resolved {
		queryProfile()
		if fetched != nil {
			resolved = accept(profileRoleValue(fetched), SourceProfileQuery)
		}
	}

	if !resolved {
		res.Role = RoleInspector
		res.Source = SourceDefault
		res.Degraded = true
		if sourceFails == 2 {
			res.Problems = append(res.Problems, ErrProfileFetchFailed)
		}
		logger.Warn("auth: role resolution degraded; assuming least-privileged role",
			zap.String("role", res.Role.String()),
			zap.Int("failed_sources", sourceFails),
		)
	}
	if res.Degraded {
		res.Problems = append(res.Problems, ErrRoleResolutionDegraded)
	}

	// Company linkage follows the same priority. The profile table is only consulted for
	// roles that need a company, so inspectors and metadata-complete sessions stay offline.
	// A cached profile without a company may predate a link made elsewhere and is re-checked.
	switch {
	case session.MetadataString(MetadataCompanyID) != "":
		res.CompanyID = session.MetadataString(MetadataCompanyID)
	case fetched != nil:
		res.CompanyID = strings.TrimSpace(fetched.CompanyID)
	case cached != nil && (strings.TrimSpace(cached.CompanyID) != "" || !res.Role.RequiresCompany()):
		res.CompanyID = strings.TrimSpace(cached.CompanyID)
	case res.Role.RequiresCompany():
		queryProfile()
		if fetched != nil {
			res.CompanyID = strings.TrimSpace(fetched.CompanyID)
		}
	}
	res.HasCompany = res.CompanyID != ""
	if fetched != nil {
		res.Profile = fetched.Clone()
	}
	if res.Role.RequiresCompany() && !res.HasCompany {
		res.Problems = append(res.Problems, ErrCompanyLinkMissing)
	}

	return res, nil
}

func profileRoleValue(profile *Profile) RoleValue {
	if strings.TrimSpace(profile.RawRole) != "" {
		return ParseRole(profile.RawRole)
	}
	return ParseRole(string(profile.Role))
}
