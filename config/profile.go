package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes one portal deployment: where to log in and which
// element selectors drive navigation. Selectors vary between portal
// releases, so they live in a file rather than in code.
type Profile struct {
	LoginURL string `yaml:"login_url"`

	Selectors struct {
		UsernameField   string `yaml:"username_field"`
		PasswordField   string `yaml:"password_field"`
		PostLoginMarker string `yaml:"post_login_marker"`
		PipelinesNav    string `yaml:"pipelines_nav"`
		MyPipelineLink  string `yaml:"my_pipeline_link"`
		StageFilter     string `yaml:"stage_filter"`
		LoanLinks       string `yaml:"loan_links"`
		LoanHeader      string `yaml:"loan_header"`
		NeedsButton     string `yaml:"needs_button"`
		NextButtons     string `yaml:"next_buttons"`
		ModalContent    string `yaml:"modal_content"`
	} `yaml:"selectors"`

	ModalCloseSelectors []string `yaml:"modal_close_selectors"`
}

func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portal profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse portal profile: %w", err)
	}

	p.applyDefaults()
	if p.LoginURL == "" {
		return nil, fmt.Errorf("portal profile %s: login_url is required", path)
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	s := &p.Selectors
	setDefault(&s.UsernameField, `#employeeId`)
	setDefault(&s.PasswordField, `#password`)
	setDefault(&s.PostLoginMarker, `div.NavIconContainer`)
	setDefault(&s.PipelinesNav, `div.NavIconContainer`)
	setDefault(&s.MyPipelineLink, `a[href='/MyPipeline.aspx']`)
	setDefault(&s.StageFilter, `#lnkStage2566`)
	setDefault(&s.LoanLinks, `a[id*='btnloanIdclick']`)
	setDefault(&s.LoanHeader, `#headerLoanID`)
	setDefault(&s.NeedsButton, `#SubNavNeeds`)
	setDefault(&s.NextButtons, `.SubNavNext`)
	setDefault(&s.ModalContent, `.modal-content`)

	if len(p.ModalCloseSelectors) == 0 {
		p.ModalCloseSelectors = []string{
			`button.close`,
			`button[class*='close']`,
			`[data-dismiss='modal']`,
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
