package h5p

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlayerConfig holds the URLs and core assets embedded in player settings.
type PlayerConfig struct {
	BaseURL     string
	AssetsURL   string
	AjaxPath    string
	CoreScripts []string
	CoreStyles  []string
	AllowExport bool
}

// ContentSettings is the integration object consumed by the H5P player.
type ContentSettings struct {
	BaseURL            string                   `json:"baseUrl"`
	URL                string                   `json:"url"`
	PostUserStatistics bool                     `json:"postUserStatistics"`
	Ajax               map[string]string        `json:"ajax"`
	SaveFreq           bool                     `json:"saveFreq"`
	Core               CoreAssets               `json:"core"`
	LoadedJS           []string                 `json:"loadedJs"`
	LoadedCSS          []string                 `json:"loadedCss"`
	Contents           map[string]PlayerContent `json:"contents"`
}

// CoreAssets lists the player runtime files.
type CoreAssets struct {
	Scripts []string `json:"scripts"`
	Styles  []string `json:"styles"`
}

// PlayerContent is one entry of ContentSettings.Contents.
type PlayerContent struct {
	Library        string          `json:"library"`
	JSONContent    string          `json:"jsonContent"`
	FullScreen     bool            `json:"fullScreen"`
	ExportURL      string          `json:"exportUrl"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	DisplayOptions DisplayOptions  `json:"displayOptions"`
	Scripts        []string        `json:"scripts"`
	Styles         []string        `json:"styles"`
}

// DisplayOptions toggles the player frame buttons.
type DisplayOptions struct {
	Frame     bool `json:"frame"`
	Export    bool `json:"export"`
	Embed     bool `json:"embed"`
	Copyright bool `json:"copyright"`
	Icon      bool `json:"icon"`
}

// ContentAPISettings is the headless configuration of a content.
type ContentAPISettings struct {
	ID           int64              `json:"id"`
	UUID         string             `json:"uuid"`
	Title        string             `json:"title"`
	Library      string             `json:"library"`
	Params       json.RawMessage    `json:"params"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
	Dependencies []DependencyAssets `json:"dependencies"`
	ExportURL    string             `json:"exportUrl,omitempty"`
}

// DependencyAssets lists the files of one library dependency.
type DependencyAssets struct {
	Library string   `json:"library"`
	Scripts []string `json:"scripts"`
	Styles  []string `json:"styles"`
}

type headlessService struct {
	store  Store
	config PlayerConfig
}

// NewHeadlessService creates a HeadlessService reading from store.
func NewHeadlessService(store Store, config PlayerConfig) HeadlessService {
	if config.AjaxPath == "" {
		config.AjaxPath = "/api/hh5p/ajax"
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	config.AssetsURL = strings.TrimSuffix(config.AssetsURL, "/")
	return &headlessService{store: store, config: config}
}

type loadedContent struct {
	content *Content
	library *Library
	deps    []*Library
}

func (s *headlessService) load(ctx context.Context, id int64) (*loadedContent, error) {
	content, err := s.store.GetContent(ctx, id)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "settings", Err: err}
	}
	lib, err := s.store.GetLibrary(ctx, content.LibraryID)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "settings", Err: err}
	}
	deps, err := resolveDependencies(ctx, s.store, lib)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "settings", Err: err}
	}
	return &loadedContent{content: content, library: lib, deps: deps}, nil
}

func (s *headlessService) GetContentSettings(ctx context.Context, id int64) (*ContentSettings, error) {
	lc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var scripts, styles []string
	for _, dep := range lc.deps {
		scripts = append(scripts, s.assetURLs(dep, dep.PreloadedJS)...)
		styles = append(styles, s.assetURLs(dep, dep.PreloadedCSS)...)
	}

	params := lc.content.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	settings := &ContentSettings{
		BaseURL: s.config.BaseURL,
		URL:     s.config.AssetsURL,
		Ajax: map[string]string{
			"setFinished":     s.config.AjaxPath + "/finish",
			"contentUserData": s.config.AjaxPath + "/content-user-data/:contentId/:dataType/:subContentId",
		},
		Core:      CoreAssets{Scripts: nonNil(s.config.CoreScripts), Styles: nonNil(s.config.CoreStyles)},
		LoadedJS:  nonNil(scripts),
		LoadedCSS: nonNil(styles),
		Contents: map[string]PlayerContent{
			fmt.Sprintf("cid-%d", lc.content.ID): {
				Library:     lc.library.Ref().String(),
				JSONContent: string(params),
				ExportURL:   s.exportURL(lc.content),
				URL:         fmt.Sprintf("%s/content/%d", s.config.BaseURL, lc.content.ID),
				Title:       lc.content.Title,
				Metadata:    lc.content.Metadata,
				DisplayOptions: DisplayOptions{
					Frame:     true,
					Export:    s.config.AllowExport,
					Copyright: true,
					Icon:      true,
				},
				Scripts: nonNil(scripts),
				Styles:  nonNil(styles),
			},
		},
	}
	return settings, nil
}

func (s *headlessService) GetContentAPISettings(ctx context.Context, id int64) (*ContentAPISettings, error) {
	lc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	settings := &ContentAPISettings{
		ID:           lc.content.ID,
		UUID:         lc.content.UUID.String(),
		Title:        lc.content.Title,
		Library:      lc.library.Ref().String(),
		Params:       lc.content.Params,
		Metadata:     lc.content.Metadata,
		ExportURL:    s.exportURL(lc.content),
		Dependencies: make([]DependencyAssets, 0, len(lc.deps)),
	}
	for _, dep := range lc.deps {
		settings.Dependencies = append(settings.Dependencies, DependencyAssets{
			Library: dep.Ref().String(),
			Scripts: nonNil(s.assetURLs(dep, dep.PreloadedJS)),
			Styles:  nonNil(s.assetURLs(dep, dep.PreloadedCSS)),
		})
	}
	return settings, nil
}

func (s *headlessService) assetURLs(lib *Library, paths []string) []string {
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		urls = append(urls, fmt.Sprintf("%s/libraries/%s/%s", s.config.AssetsURL, lib.Dir(), strings.TrimPrefix(p, "/")))
	}
	return urls
}

func (s *headlessService) exportURL(c *Content) string {
	if !s.config.AllowExport {
		return ""
	}
	return fmt.Sprintf("%s/api/admin/hh5p/content/%d/export", s.config.BaseURL, c.ID)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
