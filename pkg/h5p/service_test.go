package h5p_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/memory"
)

var testPlayerConfig = h5p.PlayerConfig{
	BaseURL:     "https://lms.example.com/",
	AssetsURL:   "https://cdn.example.com/h5p/",
	CoreScripts: []string{"https://cdn.example.com/h5p/core/js/h5p.js"},
	CoreStyles:  []string{"https://cdn.example.com/h5p/core/styles/h5p.css"},
}

func TestHeadlessService_GetContentSettings(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	content := f.upload(t, quizPackage)

	service := h5p.NewHeadlessService(f.store, testPlayerConfig)
	settings, err := service.GetContentSettings(ctx, content.ID)
	require.NoError(t, err)

	assert.Equal(t, "https://lms.example.com", settings.BaseURL)
	assert.Equal(t, "https://cdn.example.com/h5p", settings.URL)
	assert.Equal(t, "/api/hh5p/ajax/finish", settings.Ajax["setFinished"])
	assert.Equal(t, testPlayerConfig.CoreScripts, settings.Core.Scripts)

	assert.Equal(t, []string{
		"https://cdn.example.com/h5p/libraries/H5P.Question-1.5/scripts/question.js",
		"https://cdn.example.com/h5p/libraries/H5P.MultiChoice-1.16/js/multichoice.js",
	}, settings.LoadedJS)
	assert.Equal(t, []string{
		"https://cdn.example.com/h5p/libraries/FontAwesome-4.5/h5p-font-awesome.min.css",
		"https://cdn.example.com/h5p/libraries/H5P.MultiChoice-1.16/css/multichoice.css",
	}, settings.LoadedCSS)

	require.Len(t, settings.Contents, 1)
	player, ok := settings.Contents["cid-"+itoa(content.ID)]
	require.True(t, ok)
	assert.Equal(t, "H5P.MultiChoice 1.16", player.Library)
	assert.JSONEq(t, `{"question":"2+2?"}`, player.JSONContent)
	assert.Equal(t, "Quiz", player.Title)
	assert.Empty(t, player.ExportURL)
	assert.False(t, player.DisplayOptions.Export)
	assert.Equal(t, settings.LoadedJS, player.Scripts)

	// the settings object is embedded verbatim in the player page
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"loadedJs":[`)
}

func TestHeadlessService_ExportURL(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	content := f.upload(t, quizPackage)

	config := testPlayerConfig
	config.AllowExport = true
	service := h5p.NewHeadlessService(f.store, config)

	settings, err := service.GetContentSettings(ctx, content.ID)
	require.NoError(t, err)
	player := settings.Contents["cid-"+itoa(content.ID)]
	assert.Equal(t, "https://lms.example.com/api/admin/hh5p/content/"+itoa(content.ID)+"/export", player.ExportURL)
	assert.True(t, player.DisplayOptions.Export)
}

func TestHeadlessService_GetContentAPISettings(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	f.upload(t, quizPackage)

	id, err := f.repo.Create(ctx, h5p.CreateContentRequest{
		Title:   "Editor quiz",
		Library: "H5P.MultiChoice 1.16",
		Params:  `{"params":{"question":"1+1?"},"metadata":{"title":"Editor quiz"}}`,
	})
	require.NoError(t, err)

	service := h5p.NewHeadlessService(f.store, testPlayerConfig)
	settings, err := service.GetContentAPISettings(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, settings.ID)
	assert.Equal(t, "H5P.MultiChoice 1.16", settings.Library)
	assert.JSONEq(t, `{"question":"1+1?"}`, string(settings.Params))
	assert.JSONEq(t, `{"title":"Editor quiz"}`, string(settings.Metadata))
	_, err = uuid.Parse(settings.UUID)
	assert.NoError(t, err)

	require.Len(t, settings.Dependencies, 3)
	assert.Equal(t, "FontAwesome 4.5", settings.Dependencies[0].Library)
	assert.Empty(t, settings.Dependencies[0].Scripts)
	assert.NotNil(t, settings.Dependencies[0].Scripts)
	assert.Equal(t, "H5P.Question 1.5", settings.Dependencies[1].Library)
	assert.Equal(t, "H5P.MultiChoice 1.16", settings.Dependencies[2].Library)
}

func TestHeadlessService_NotFound(t *testing.T) {
	service := h5p.NewHeadlessService(memory.New(), testPlayerConfig)

	_, err := service.GetContentSettings(context.Background(), 42)
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)

	_, err = service.GetContentAPISettings(context.Background(), 42)
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)
}

func TestHeadlessService_DependencyCycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	a := &h5p.Library{MachineName: "H5P.A", MajorVersion: 1, PreloadedJS: []string{"a.js"},
		Dependencies: []h5p.LibraryRef{{MachineName: "H5P.B", MajorVersion: 1}}}
	b := &h5p.Library{MachineName: "H5P.B", MajorVersion: 1, PreloadedJS: []string{"b.js"},
		Dependencies: []h5p.LibraryRef{{MachineName: "H5P.A", MajorVersion: 1}}}
	require.NoError(t, store.SaveLibrary(ctx, a))
	require.NoError(t, store.SaveLibrary(ctx, b))

	content := &h5p.Content{UUID: uuid.New(), Title: "Cycle", LibraryID: a.ID}
	require.NoError(t, store.CreateContent(ctx, content))

	service := h5p.NewHeadlessService(store, h5p.PlayerConfig{AssetsURL: "/h5p"})
	settings, err := service.GetContentSettings(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/h5p/libraries/H5P.B-1.0/b.js", "/h5p/libraries/H5P.A-1.0/a.js"}, settings.LoadedJS)
	assert.Equal(t, []string{}, settings.LoadedCSS)
}

func TestHeadlessService_MissingDependency(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	lib := &h5p.Library{MachineName: "H5P.Orphan", MajorVersion: 1,
		Dependencies: []h5p.LibraryRef{{MachineName: "H5P.Gone", MajorVersion: 2}}}
	require.NoError(t, store.SaveLibrary(ctx, lib))
	content := &h5p.Content{UUID: uuid.New(), Title: "Orphan", LibraryID: lib.ID}
	require.NoError(t, store.CreateContent(ctx, content))

	service := h5p.NewHeadlessService(store, h5p.PlayerConfig{})
	_, err := service.GetContentSettings(ctx, content.ID)
	assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
