package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// メタデータのキー名。IdPのuser_metadataに保存される。
const (
	MetaProfileComplete = "profile_complete"
	MetaThankYouSeen    = "thank_you_seen"
	MetaSurveyCompleted = "survey_completed"
	MetaProfileData     = "profile_data"
	MetaSurveyData      = "survey_data"
)

// Metadata はIdPのメタデータバッグを型付きで表したもの。
type Metadata struct {
	ProfileComplete bool
	ThankYouSeen    bool
	SurveyCompleted bool
	ProfileData     *ProfileData
	SurveyData      *SurveyData
}

// ProfileData はプロフィール入力フォームの内容。
type ProfileData struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Age          int    `json:"age"`
	Gender       string `json:"gender"`
	InterestedIn string `json:"interested_in"`
	Location     string `json:"location"`
	Occupation   string `json:"occupation,omitempty"`
	Bio          string `json:"bio,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	Instagram    string `json:"instagram,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// SurveyData はPreferences Surveyの回答一式。
// ウィザードの各ステップで少しずつ埋められ、最後にまとめて送信される。
type SurveyData struct {
	// Step 1: 基本情報
	ZipCode        string   `json:"zip_code,omitempty"`
	Availability   []string `json:"availability,omitempty"`
	EventTypes     []string `json:"event_types,omitempty"`
	AgeRangeMin    int      `json:"age_range_min,omitempty"`
	AgeRangeMax    int      `json:"age_range_max,omitempty"`
	TravelDistance string   `json:"travel_distance,omitempty"`

	// Step 2: ライフスタイル
	Hobbies            []string `json:"hobbies,omitempty"`
	DrinkingHabits     string   `json:"drinking_habits,omitempty"`
	SmokingHabits      string   `json:"smoking_habits,omitempty"`
	ExerciseFrequency  string   `json:"exercise_frequency,omitempty"`
	DietaryPreferences []string `json:"dietary_preferences,omitempty"`
	Pets               string   `json:"pets,omitempty"`

	// Step 3: パーソナリティ
	PersonalityTraits map[string]int `json:"personality_traits,omitempty"`
	Descriptors       []string       `json:"descriptors,omitempty"`
	SocialEnergy      string         `json:"social_energy,omitempty"`
	WeekendStyle      string         `json:"weekend_style,omitempty"`

	// Step 4: 価値観
	RelationshipGoal   string   `json:"relationship_goal,omitempty"`
	WantsChildren      string   `json:"wants_children,omitempty"`
	Religion           string   `json:"religion,omitempty"`
	ReligionImportance string   `json:"religion_importance,omitempty"`
	Politics           string   `json:"politics,omitempty"`
	PoliticsImportance string   `json:"politics_importance,omitempty"`
	LoveLanguages      []string `json:"love_languages,omitempty"`

	// Step 5: 相手に求めること
	PartnerTraits       map[string]int `json:"partner_traits,omitempty"`
	DealBreakers        []string       `json:"deal_breakers,omitempty"`
	HeightPreference    string         `json:"height_preference,omitempty"`
	EducationImportance string         `json:"education_importance,omitempty"`

	// Step 6: 仕上げ
	IdealFirstDate     string   `json:"ideal_first_date,omitempty"`
	ConversationTopics []string `json:"conversation_topics,omitempty"`
	AdditionalNotes    string   `json:"additional_notes,omitempty"`
	HowDidYouHear      string   `json:"how_did_you_hear,omitempty"`
}

// MetadataParseError はメタデータの一部フィールドが期待する型で読めなかったことを表す。
// errors.Is(err, ErrMetadataParse) で判定できる。
type MetadataParseError struct {
	Fields []string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMetadataParse.Error(), strings.Join(e.Fields, ", "), e.Err)
}

// Is はErrMetadataParseとの比較を可能にする。
func (e *MetadataParseError) Is(target error) bool {
	return target == ErrMetadataParse
}

// Unwrap は最初に発生した下位エラーを返す。
func (e *MetadataParseError) Unwrap() error {
	return e.Err
}

// ParseMetadata は型なしのメタデータバッグをMetadataに変換する。
// 各フィールドは独立して解析され、失敗したフィールドはゼロ値のまま残る。
// 1つでも失敗した場合は *MetadataParseError を返すが、解析できた部分は戻り値に含まれる。
// 未設定およびnullはゼロ値として扱い、エラーにしない。
func ParseMetadata(raw map[string]json.RawMessage) (Metadata, error) {
	var md Metadata
	var parseErr *MetadataParseError

	record := func(field string, err error) {
		if parseErr == nil {
			parseErr = &MetadataParseError{Err: err}
		}
		parseErr.Fields = append(parseErr.Fields, field)
	}

	if err := decodeField(raw, MetaProfileComplete, &md.ProfileComplete); err != nil {
		record(MetaProfileComplete, err)
	}
	if err := decodeField(raw, MetaThankYouSeen, &md.ThankYouSeen); err != nil {
		record(MetaThankYouSeen, err)
	}
	if err := decodeField(raw, MetaSurveyCompleted, &md.SurveyCompleted); err != nil {
		record(MetaSurveyCompleted, err)
	}

	if present(raw, MetaProfileData) {
		var p ProfileData
		if err := decodeField(raw, MetaProfileData, &p); err != nil {
			record(MetaProfileData, err)
		} else {
			md.ProfileData = &p
		}
	}
	if present(raw, MetaSurveyData) {
		var s SurveyData
		if err := decodeField(raw, MetaSurveyData, &s); err != nil {
			record(MetaSurveyData, err)
		} else {
			md.SurveyData = &s
		}
	}

	if parseErr != nil {
		return md, parseErr
	}
	return md, nil
}

// present はキーが存在し、かつnullでないかを返す。
func present(raw map[string]json.RawMessage, key string) bool {
	v, ok := raw[key]
	if !ok {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// decodeField はキーが存在する場合のみdstへデコードする。
func decodeField(raw map[string]json.RawMessage, key string, dst any) error {
	if !present(raw, key) {
		return nil
	}
	if err := json.Unmarshal(raw[key], dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
