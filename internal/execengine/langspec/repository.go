package langspec

import (
	"fmt"

	appErr "coderunner/pkg/errors"
)

// StaticRepository resolves language specs and task profiles from an
// in-memory table built once at startup from configuration.
type StaticRepository struct {
	languages map[string]LanguageSpec
	profiles  map[string]TaskProfile
}

// NewStaticRepository builds a repository from configuration lists.
func NewStaticRepository(languages []LanguageSpec, profiles []TaskProfile) *StaticRepository {
	langMap := make(map[string]LanguageSpec, len(languages))
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		langMap[lang.ID] = lang
	}
	profileMap := make(map[string]TaskProfile, len(profiles))
	for _, prof := range profiles {
		if prof.TaskType == "" || prof.LanguageID == "" {
			continue
		}
		profileMap[profileKey(prof.LanguageID, prof.TaskType)] = prof
	}
	return &StaticRepository{languages: langMap, profiles: profileMap}
}

// GetLanguageSpec returns the spec for a language tag.
func (r *StaticRepository) GetLanguageSpec(id string) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).WithDetail("language", id)
	}
	return lang, nil
}

// GetTaskProfile returns the profile for a language/task-type pair.
func (r *StaticRepository) GetTaskProfile(taskType TaskType, languageID string) (TaskProfile, error) {
	if taskType == "" || languageID == "" {
		return TaskProfile{}, appErr.ValidationError("task_profile", "required")
	}
	prof, ok := r.profiles[profileKey(languageID, taskType)]
	if !ok {
		return TaskProfile{}, appErr.New(appErr.NotFound).WithMessagef("no task profile for %s/%s", languageID, taskType)
	}
	return prof, nil
}

func profileKey(languageID string, taskType TaskType) string {
	return fmt.Sprintf("%s-%s", languageID, taskType)
}

// ProfileName returns the profile name the Isolation Driver resolves to an
// IsolationProfile: "{languageID}-{taskType}".
func ProfileName(languageID string, taskType TaskType) string {
	return profileKey(languageID, taskType)
}
