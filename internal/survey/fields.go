package survey

import "github.com/hitoshi/minglemood/internal/model"

// FieldKind はアンケート項目の入力形式。
type FieldKind string

const (
	KindText   FieldKind = "text"   // 単一選択・自由記述
	KindNumber FieldKind = "number" // 数値
	KindMulti  FieldKind = "multi"  // 複数選択（上限あり）
	KindTraits FieldKind = "traits" // 特性名ごとの1〜5評価
)

// 特性評価の範囲。
const (
	MinTraitValue = 1
	MaxTraitValue = 5
)

// 複数選択の上限。
const (
	MaxEventTypes         = 3
	MaxDescriptors        = 15
	MaxDealBreakers       = 8
	MaxLoveLanguages      = 2
	MaxConversationTopics = 5
)

// Field はアンケート項目の定義。Kindに応じたアクセサのみ設定される。
type Field struct {
	Name     string
	Step     int
	Kind     FieldKind
	Max      int // KindMultiの選択上限。0は無制限
	FreeText bool

	text   func(*model.SurveyData) *string
	number func(*model.SurveyData) *int
	list   func(*model.SurveyData) *[]string
	traits func(*model.SurveyData) *map[string]int
}

// Step はウィザードの1ページ。
type Step struct {
	Index  int      `json:"index"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

// TotalSteps はウィザードのページ数。
const TotalSteps = 6

var stepTitles = [TotalSteps]string{
	"Basics",
	"Lifestyle",
	"Personality",
	"Values",
	"Partner Preferences",
	"Final Touches",
}

func text(name string, step int, get func(*model.SurveyData) *string) Field {
	return Field{Name: name, Step: step, Kind: KindText, text: get}
}

func freeText(name string, step int, get func(*model.SurveyData) *string) Field {
	return Field{Name: name, Step: step, Kind: KindText, FreeText: true, text: get}
}

func number(name string, step int, get func(*model.SurveyData) *int) Field {
	return Field{Name: name, Step: step, Kind: KindNumber, number: get}
}

func multi(name string, step, limit int, get func(*model.SurveyData) *[]string) Field {
	return Field{Name: name, Step: step, Kind: KindMulti, Max: limit, list: get}
}

func traits(name string, step int, get func(*model.SurveyData) *map[string]int) Field {
	return Field{Name: name, Step: step, Kind: KindTraits, traits: get}
}

// fields はステップ順に並んだ全項目。
var fields = []Field{
	text("zip_code", 0, func(d *model.SurveyData) *string { return &d.ZipCode }),
	multi("availability", 0, 0, func(d *model.SurveyData) *[]string { return &d.Availability }),
	multi("event_types", 0, MaxEventTypes, func(d *model.SurveyData) *[]string { return &d.EventTypes }),
	number("age_range_min", 0, func(d *model.SurveyData) *int { return &d.AgeRangeMin }),
	number("age_range_max", 0, func(d *model.SurveyData) *int { return &d.AgeRangeMax }),
	text("travel_distance", 0, func(d *model.SurveyData) *string { return &d.TravelDistance }),

	multi("hobbies", 1, 0, func(d *model.SurveyData) *[]string { return &d.Hobbies }),
	text("drinking_habits", 1, func(d *model.SurveyData) *string { return &d.DrinkingHabits }),
	text("smoking_habits", 1, func(d *model.SurveyData) *string { return &d.SmokingHabits }),
	text("exercise_frequency", 1, func(d *model.SurveyData) *string { return &d.ExerciseFrequency }),
	multi("dietary_preferences", 1, 0, func(d *model.SurveyData) *[]string { return &d.DietaryPreferences }),
	text("pets", 1, func(d *model.SurveyData) *string { return &d.Pets }),

	traits("personality_traits", 2, func(d *model.SurveyData) *map[string]int { return &d.PersonalityTraits }),
	multi("descriptors", 2, MaxDescriptors, func(d *model.SurveyData) *[]string { return &d.Descriptors }),
	text("social_energy", 2, func(d *model.SurveyData) *string { return &d.SocialEnergy }),
	text("weekend_style", 2, func(d *model.SurveyData) *string { return &d.WeekendStyle }),

	text("relationship_goal", 3, func(d *model.SurveyData) *string { return &d.RelationshipGoal }),
	text("wants_children", 3, func(d *model.SurveyData) *string { return &d.WantsChildren }),
	text("religion", 3, func(d *model.SurveyData) *string { return &d.Religion }),
	text("religion_importance", 3, func(d *model.SurveyData) *string { return &d.ReligionImportance }),
	text("politics", 3, func(d *model.SurveyData) *string { return &d.Politics }),
	text("politics_importance", 3, func(d *model.SurveyData) *string { return &d.PoliticsImportance }),
	multi("love_languages", 3, MaxLoveLanguages, func(d *model.SurveyData) *[]string { return &d.LoveLanguages }),

	traits("partner_traits", 4, func(d *model.SurveyData) *map[string]int { return &d.PartnerTraits }),
	multi("deal_breakers", 4, MaxDealBreakers, func(d *model.SurveyData) *[]string { return &d.DealBreakers }),
	text("height_preference", 4, func(d *model.SurveyData) *string { return &d.HeightPreference }),
	text("education_importance", 4, func(d *model.SurveyData) *string { return &d.EducationImportance }),

	freeText("ideal_first_date", 5, func(d *model.SurveyData) *string { return &d.IdealFirstDate }),
	multi("conversation_topics", 5, MaxConversationTopics, func(d *model.SurveyData) *[]string { return &d.ConversationTopics }),
	freeText("additional_notes", 5, func(d *model.SurveyData) *string { return &d.AdditionalNotes }),
	text("how_did_you_hear", 5, func(d *model.SurveyData) *string { return &d.HowDidYouHear }),
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// Lookup は項目名から定義を返す。
func Lookup(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// Steps は全ステップと所属する項目名を返す。
func Steps() []Step {
	steps := make([]Step, TotalSteps)
	for i := range steps {
		steps[i] = Step{Index: i, Title: stepTitles[i]}
	}
	for _, f := range fields {
		steps[f.Step].Fields = append(steps[f.Step].Fields, f.Name)
	}
	return steps
}
