package security

import appErr "coderunner/pkg/errors"

// StaticResolver resolves a fixed name-to-profile map, configured once
// at startup from the language catalog's task profiles.
type StaticResolver struct {
	profiles map[string]IsolationProfile
}

// NewStaticResolver builds a StaticResolver from a name-keyed profile set.
func NewStaticResolver(profiles map[string]IsolationProfile) *StaticResolver {
	return &StaticResolver{profiles: profiles}
}

// Resolve implements isolation.ProfileResolver.
func (r *StaticResolver) Resolve(profileName string) (IsolationProfile, error) {
	p, ok := r.profiles[profileName]
	if !ok {
		return IsolationProfile{}, appErr.New(appErr.LanguageNotSupported).WithDetail("profile", profileName)
	}
	return p, nil
}
