package ui

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"node.town/tabscribe/stt"
)

// Pick asks for the tab and languages to start with. The values passed in
// are the defaults.
func Pick(tabID int, langs stt.Languages, choices []string) (int, stt.Languages, error) {
	tab := strconv.Itoa(tabID)
	source, target := langs.Source, langs.Target

	options := huh.NewOptions(choices...)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Tab").
				Value(&tab).
				Validate(validateTab),
			huh.NewSelect[string]().
				Title("Source language").
				Options(options...).
				Value(&source),
			huh.NewSelect[string]().
				Title("Target language").
				Options(options...).
				Value(&target).
				Validate(func(s string) error {
					if s == source {
						return stt.ErrSameLanguages
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return 0, stt.Languages{}, fmt.Errorf("failed to run form: %w", err)
	}

	id, _ := strconv.Atoi(tab)
	return id, stt.Languages{Source: source, Target: target}, nil
}

func validateTab(s string) error {
	id, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("tab must be a number")
	}
	if id < 0 {
		return errors.New("tab must not be negative")
	}
	return nil
}
