// Package survey はPreferences Surveyの6ステップのウィザードを提供する。
// ウィザード自体は永続化を行わず、送信時に回答一式を呼び出し元へ渡す。
package survey

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hitoshi/minglemood/internal/model"
)

// Wizard は入力途中のアンケートを表す。
// 各ステップの入力検証は行わず、ステップの移動は範囲内に丸める。
type Wizard struct {
	CurrentStep int              `json:"current_step"`
	Draft       model.SurveyData `json:"draft"`
}

// New は最初のステップから始まる空のWizardを生成する。
func New() *Wizard {
	return &Wizard{}
}

// Next は次のステップへ進む。最後のステップではそのまま。
func (w *Wizard) Next() {
	if w.CurrentStep < TotalSteps-1 {
		w.CurrentStep++
	}
}

// Previous は前のステップへ戻る。最初のステップではそのまま。
func (w *Wizard) Previous() {
	if w.CurrentStep > 0 {
		w.CurrentStep--
	}
}

// Progress は進捗率（0より大きく1以下）を返す。
func (w *Wizard) Progress() float64 {
	return float64(w.CurrentStep+1) / float64(TotalSteps)
}

// IsLastStep は最後のステップかを返す。
func (w *Wizard) IsLastStep() bool {
	return w.CurrentStep == TotalSteps-1
}

// normalize は保存データから復元した際にステップを範囲内へ収める。
func (w *Wizard) normalize() {
	w.CurrentStep = min(max(w.CurrentStep, 0), TotalSteps-1)
}

// SetText は単一選択・自由記述の項目を上書きする。
func (w *Wizard) SetText(name, value string) error {
	f, err := w.field(name, KindText)
	if err != nil {
		return err
	}
	*f.text(&w.Draft) = value
	return nil
}

// SetNumber は数値項目を上書きする。
func (w *Wizard) SetNumber(name string, value int) error {
	f, err := w.field(name, KindNumber)
	if err != nil {
		return err
	}
	*f.number(&w.Draft) = value
	return nil
}

// Toggle は複数選択項目の選択肢を切り替え、選択状態が変わったかを返す。
// 選択済みなら外し、未選択なら追加する。上限に達している場合は追加せず、
// エラーにもしない。
func (w *Wizard) Toggle(name, option string) (bool, error) {
	f, err := w.field(name, KindMulti)
	if err != nil {
		return false, err
	}
	option = strings.TrimSpace(option)
	if option == "" {
		return false, model.NewValidationError(map[string]string{name: "選択肢を指定してください"})
	}

	list := f.list(&w.Draft)
	if i := slices.Index(*list, option); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
		return true, nil
	}
	if f.Max > 0 && len(*list) >= f.Max {
		return false, nil
	}
	*list = append(*list, option)
	return true, nil
}

// SetTrait は特性の評価を設定する。範囲外の値は丸めずに検証エラーを返す。
func (w *Wizard) SetTrait(name, trait string, value int) error {
	f, err := w.field(name, KindTraits)
	if err != nil {
		return err
	}
	trait = strings.TrimSpace(trait)
	if trait == "" {
		return model.NewValidationError(map[string]string{name: "特性名を指定してください"})
	}
	if value < MinTraitValue || value > MaxTraitValue {
		return model.NewValidationError(map[string]string{
			name: fmt.Sprintf("評価は%dから%dの範囲で指定してください", MinTraitValue, MaxTraitValue),
		})
	}

	m := f.traits(&w.Draft)
	if *m == nil {
		*m = make(map[string]int)
	}
	(*m)[trait] = value
	return nil
}

// Submit は回答一式を onComplete に渡す。渡すのは複製であり、
// onComplete が返したエラーをそのまま返す。
func (w *Wizard) Submit(onComplete func(model.SurveyData) error) error {
	return onComplete(w.Snapshot())
}

// Cancel は何も渡さずに onCancel を呼ぶ。
func (w *Wizard) Cancel(onCancel func()) {
	if onCancel != nil {
		onCancel()
	}
}

// Snapshot は入力中の回答の複製を返す。
func (w *Wizard) Snapshot() model.SurveyData {
	out := w.Draft
	for _, f := range fields {
		switch f.Kind {
		case KindMulti:
			l := f.list(&out)
			*l = slices.Clone(*l)
		case KindTraits:
			m := f.traits(&out)
			*m = maps.Clone(*m)
		}
	}
	return out
}

// field は項目名と期待する入力形式から定義を引く。
func (w *Wizard) field(name string, kind FieldKind) (Field, error) {
	f, ok := Lookup(name)
	if !ok {
		return Field{}, model.NewUnknownSurveyFieldError(name)
	}
	if f.Kind != kind {
		return Field{}, model.NewValidationError(map[string]string{
			name: fmt.Sprintf("この項目は%s形式です", f.Kind),
		})
	}
	return f, nil
}

// Mutation はウィザードへの1回分の入力を表す（PATCH /api/survey/draft のボディ）。
// 項目の形式に応じて Text / Number / Toggle / Trait+Value のいずれかを指定する。
type Mutation struct {
	Field  string  `json:"field"`
	Text   *string `json:"text,omitempty"`
	Number *int    `json:"number,omitempty"`
	Toggle string  `json:"toggle,omitempty"`
	Trait  string  `json:"trait,omitempty"`
	Value  *int    `json:"value,omitempty"`
}

// Apply は入力をウィザードに反映する。
func (w *Wizard) Apply(m Mutation) error {
	f, ok := Lookup(m.Field)
	if !ok {
		return model.NewUnknownSurveyFieldError(m.Field)
	}

	switch f.Kind {
	case KindText:
		if m.Text != nil {
			return w.SetText(m.Field, *m.Text)
		}
	case KindNumber:
		if m.Number != nil {
			return w.SetNumber(m.Field, *m.Number)
		}
	case KindMulti:
		if m.Toggle != "" {
			_, err := w.Toggle(m.Field, m.Toggle)
			return err
		}
	case KindTraits:
		if m.Trait != "" && m.Value != nil {
			return w.SetTrait(m.Field, m.Trait, *m.Value)
		}
	}
	return model.NewValidationError(map[string]string{
		m.Field: fmt.Sprintf("この項目は%s形式の値を指定してください", f.Kind),
	})
}
