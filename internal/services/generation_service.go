// internal/services/generation_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage/sqlite"
	"github.com/Corphon/StoryLoomMCP/internal/storygraph"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

const (
	// generationTimeout bounds one whole background task, plan and all
	// dialogue calls included.
	generationTimeout = 10 * time.Minute

	// sceneColumnStep spaces generated scenes on the canvas.
	sceneColumnStep = 240.0

	defaultExpansionDepth = 2
	maxExpansionDepth     = 6
)

// GenerationService runs the LLM pipelines that produce new graph
// content: whole-story generation and scene expansion. Both run as
// background tasks; one task per project at a time, with progress
// pushed through the progress service and one usage row recorded per
// model call.
type GenerationService struct {
	LLM      *LLMService
	Projects *ProjectService
	Stories  *StoryService
	Progress *ProgressService
	Stats    *StatsService
	locks    *LockManager
}

// NewGenerationService wires the pipeline. The lock manager must be
// the instance the story service uses, otherwise generation and
// editing stop excluding each other.
func NewGenerationService(llmService *LLMService, projects *ProjectService, stories *StoryService, progress *ProgressService, stats *StatsService, locks *LockManager) *GenerationService {
	if llmService == nil || projects == nil || stories == nil || progress == nil {
		panic("generation service requires llm, project, story and progress services")
	}
	if locks == nil {
		locks = NewLockManager()
	}
	return &GenerationService{
		LLM:      llmService,
		Projects: projects,
		Stories:  stories,
		Progress: progress,
		Stats:    stats,
		locks:    locks,
	}
}

// GenerateStory starts a background task that plans a branching story,
// repairs the plan, writes per-scene dialogue and installs the result
// as a new story of the project. Returns the task id.
func (s *GenerationService) GenerateStory(projectID, prompt, lengthHint, structureHint string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperrors.NewValidationError("generation prompt must not be empty", nil)
	}
	if _, err := s.Projects.GetProject(projectID); err != nil {
		return "", err
	}
	if ready, state := s.LLM.GetProviderStatus(); !ready {
		return "", apperrors.NewLLMError(fmt.Sprintf("LLM service not ready: %s", state), ErrLLMNotReady)
	}

	taskID := utils.MintID("task")
	acquired, runningTask := s.locks.TryAcquireGeneration(projectID, taskID)
	if !acquired {
		return "", apperrors.NewConflictError(
			fmt.Sprintf("generation task %s is already running for this project", runningTask), nil)
	}

	s.Progress.CreateTracker(taskID)

	go s.runStoryGeneration(taskID, projectID, prompt, lengthHint, structureHint)

	return taskID, nil
}

func (s *GenerationService) runStoryGeneration(taskID, projectID, prompt, lengthHint, structureHint string) {
	defer s.locks.ReleaseGeneration(projectID, taskID)
	defer s.recoverTask(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	tracker, _ := s.Progress.GetTracker(taskID)

	tracker.UpdateProgress(10, "Planning story structure...")
	plan, err := s.planStory(ctx, taskID, projectID, prompt, lengthHint, structureHint)
	if err != nil {
		tracker.Fail(err.Error())
		return
	}

	tracker.UpdateProgress(25, "Repairing plan references...")
	cast := castFromPlan(plan)
	story := buildStoryFromPlan(plan)

	speakers := make(map[string]string, len(cast))
	for _, character := range cast {
		speakers[strings.ToLower(character.Name)] = character.ID
	}

	storyContext := planContext(plan)
	scenes := story.OrderedScenes()
	for i, scene := range scenes {
		progress := 30 + 60*i/len(scenes)
		tracker.UpdateProgress(progress, fmt.Sprintf("Writing dialogue for scene %d of %d...", i+1, len(scenes)))

		lines, err := s.generateSceneDialogue(ctx, taskID, projectID, scene, storyContext, lengthHint, speakers)
		if err != nil {
			// One broken scene must not sink the story. The scene keeps
			// its description as narration and the task moves on.
			utils.GetLogger().Warn("Scene dialogue failed, using description fallback", map[string]interface{}{
				"task_id":  taskID,
				"scene_id": scene.ID,
				"error":    err.Error(),
			})
			lines = descriptionFallback(scene)
		}
		applyDialogue(scene, lines)
	}

	tracker.UpdateProgress(95, "Saving project...")
	err = s.locks.ExecuteWithProjectLock(projectID, func() error {
		project, err := s.Projects.GetProject(projectID)
		if err != nil {
			return err
		}
		updated := project.Clone()
		for _, character := range cast {
			updated.AddCharacter(character)
		}
		updated.AddStory(story)
		return s.Projects.SaveProject(updated)
	})
	if err != nil {
		tracker.Fail(err.Error())
		return
	}

	tracker.Complete("Story generated", map[string]interface{}{
		"project_id":  projectID,
		"story_id":    story.ID,
		"story_name":  story.Name,
		"scene_count": len(story.Scenes),
	})
}

// ExpandScene starts a background task that grows the graph at one
// scene: a fragment of new scenes is planned, filled with dialogue and
// spliced in at the attachment scene. Returns the task id.
func (s *GenerationService) ExpandScene(projectID, storyID, sceneID, prompt string, depth int) (string, error) {
	project, err := s.Projects.GetProject(projectID)
	if err != nil {
		return "", err
	}
	story := project.GetStory(storyID)
	if story == nil {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("story %s does not exist", storyID), nil)
	}
	scene := story.GetScene(sceneID)
	if scene == nil {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("scene %s does not exist", sceneID), nil)
	}
	if ready, state := s.LLM.GetProviderStatus(); !ready {
		return "", apperrors.NewLLMError(fmt.Sprintf("LLM service not ready: %s", state), ErrLLMNotReady)
	}

	if depth <= 0 {
		depth = defaultExpansionDepth
	}
	if depth > maxExpansionDepth {
		depth = maxExpansionDepth
	}

	taskID := utils.MintID("task")
	acquired, runningTask := s.locks.TryAcquireGeneration(projectID, taskID)
	if !acquired {
		return "", apperrors.NewConflictError(
			fmt.Sprintf("generation task %s is already running for this project", runningTask), nil)
	}

	s.Progress.CreateTracker(taskID)

	go s.runExpansion(taskID, projectID, storyID, sceneID, prompt, depth,
		scene.Name, scene.Description, speakerIndex(project))

	return taskID, nil
}

func (s *GenerationService) runExpansion(taskID, projectID, storyID, sceneID, prompt string, depth int, sceneName, sceneDescription string, speakers map[string]string) {
	defer s.locks.ReleaseGeneration(projectID, taskID)
	defer s.recoverTask(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	tracker, _ := s.Progress.GetTracker(taskID)

	tracker.UpdateProgress(10, "Planning branch scenes...")
	plan, err := s.planBranch(ctx, taskID, projectID, prompt, depth, sceneName, sceneDescription)
	if err != nil {
		tracker.Fail(err.Error())
		return
	}

	tracker.UpdateProgress(30, "Building fragment...")
	frag := fragmentFromPlan(plan)

	branchContext := fmt.Sprintf("The branch grows out of the scene %q. %s", sceneName, sceneDescription)
	for i, fragScene := range frag.Scenes {
		progress := 35 + 50*i/len(frag.Scenes)
		tracker.UpdateProgress(progress, fmt.Sprintf("Writing dialogue for scene %d of %d...", i+1, len(frag.Scenes)))

		lines, err := s.generateSceneDialogue(ctx, taskID, projectID, fragScene.Scene, branchContext, "", speakers)
		if err != nil {
			utils.GetLogger().Warn("Scene dialogue failed, using description fallback", map[string]interface{}{
				"task_id":  taskID,
				"scene_id": fragScene.TempID,
				"error":    err.Error(),
			})
			lines = descriptionFallback(fragScene.Scene)
		}
		applyDialogue(fragScene.Scene, lines)
	}

	tracker.UpdateProgress(90, "Splicing branch into the story...")
	story, err := s.Stories.SpliceFragment(projectID, storyID, sceneID, frag)
	if err != nil {
		tracker.Fail(err.Error())
		return
	}

	tracker.Complete("Scene expanded", map[string]interface{}{
		"project_id":   projectID,
		"story_id":     storyID,
		"attached_to":  sceneID,
		"added_scenes": len(frag.Scenes),
		"scene_count":  len(story.Scenes),
	})
}

func (s *GenerationService) recoverTask(taskID string) {
	if r := recover(); r != nil {
		utils.GetLogger().Error("Generation task panicked", map[string]interface{}{
			"task_id": taskID,
			"panic":   fmt.Sprintf("%v", r),
		})
		if tracker, ok := s.Progress.GetTracker(taskID); ok {
			tracker.Fail(fmt.Sprintf("internal error: %v", r))
		}
	}
}

// ---- Planning calls ----

func (s *GenerationService) planStory(ctx context.Context, taskID, projectID, prompt, lengthHint, structureHint string) (*StoryPlanResult, error) {
	sceneCount := sceneCountForHint(lengthHint)
	structure := "branching paths that reconverge before the ending"
	if strings.EqualFold(structureHint, "linear") {
		structure = "a single linear path"
	}

	userPrompt := fmt.Sprintf(`Plan a branching visual-novel story based on this premise:

%s

Plan around %d scenes forming %s.

**Plan requirements**:
1. Give every scene a short unique id (like "s1", "s2"), a name and a one-paragraph description
2. Give every scene exactly one outcome: a "choice" with 2-4 options, a "transition" to another scene id, or "end"
3. Option and transition targets must use the scene ids of this plan
4. At least one scene must end the story
5. Introduce 2-4 characters with appearance and talking style

**Output schema**:
{"title": "...", "description": "...", "characters": [{"name": "...", "appearance": "...", "style": "..."}], "scenes": [{"id": "s1", "name": "...", "description": "...", "background": "...", "outcome": {"type": "choice", "options": [{"text": "...", "next": "s2"}]}}]}`,
		prompt, sceneCount, structure)

	systemPrompt := "You are a branching-narrative designer. You plan story graphs scene by scene, keeping every branch meaningful and every path reachable from the first scene."

	start := time.Now()
	var plan StoryPlanResult
	resp, err := s.LLM.CreateStructuredCompletion(ctx, userPrompt, systemPrompt, &plan)
	s.recordUsage(taskID, projectID, "story", resp, start, err)
	if err != nil {
		return nil, err
	}

	if err := validateStoryPlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *GenerationService) planBranch(ctx context.Context, taskID, projectID, prompt string, depth int, sceneName, sceneDescription string) (*BranchPlanResult, error) {
	direction := prompt
	if strings.TrimSpace(direction) == "" {
		direction = "Continue the story in a direction that fits the scene."
	}

	userPrompt := fmt.Sprintf(`Expand one scene of a visual-novel story into a short branch.

Scene: %s
%s

Direction: %s

**Branch requirements**:
1. Invent %d new scenes with short unique ids (like "b1", "b2"), names and descriptions
2. "entry" is the outcome installed in the expanded scene; its targets must be new scene ids
3. Give every new scene exactly one outcome ("choice", "transition" or "end") targeting new scene ids
4. Use "connections" only for extra links between new scenes

**Output schema**:
{"entry": {"type": "choice", "options": [{"text": "...", "next": "b1"}]}, "scenes": [{"id": "b1", "name": "...", "description": "...", "outcome": {"type": "end"}}], "connections": []}`,
		sceneName, sceneDescription, direction, depth)

	systemPrompt := "You are a branching-narrative designer. You grow existing story graphs with small, self-contained branches."

	start := time.Now()
	var plan BranchPlanResult
	resp, err := s.LLM.CreateStructuredCompletion(ctx, userPrompt, systemPrompt, &plan)
	s.recordUsage(taskID, projectID, "expand", resp, start, err)
	if err != nil {
		return nil, err
	}

	if err := validateBranchPlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ---- Dialogue calls ----

func (s *GenerationService) generateSceneDialogue(ctx context.Context, taskID, projectID string, scene *models.Scene, storyContext, lengthHint string, speakers map[string]string) ([]models.DialogueItem, error) {
	lineCount := 6
	switch strings.ToLower(lengthHint) {
	case "short":
		lineCount = 4
	case "long":
		lineCount = 10
	}

	cast := make([]string, 0, len(speakers))
	for name := range speakers {
		cast = append(cast, name)
	}
	sort.Strings(cast)
	castLine := "narrator only"
	if len(cast) > 0 {
		castLine = strings.Join(cast, ", ")
	}

	userPrompt := fmt.Sprintf(`Write the dialogue for one scene of a visual novel.

Story context: %s

Scene: %s
%s

Available speakers: %s

Write about %d lines. Use an empty speaker for narration. Do not write choices, transitions or endings; only spoken lines and narration.

**Output schema**:
{"lines": [{"speaker": "", "text": "..."}]}`,
		storyContext, scene.Name, scene.Description, castLine, lineCount)

	systemPrompt := "You are a visual-novel dialogue writer. You write tight, characterful lines that carry the scene from its opening to its outcome."

	start := time.Now()
	var result SceneDialogueResult
	resp, err := s.LLM.CreateStructuredCompletion(ctx, userPrompt, systemPrompt, &result)
	s.recordUsage(taskID, projectID, "dialogue", resp, start, err)
	if err != nil {
		return nil, err
	}
	if len(result.Lines) == 0 {
		return nil, apperrors.NewValidationError("dialogue result contains no lines", nil)
	}

	items := make([]models.DialogueItem, 0, len(result.Lines))
	for _, line := range result.Lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(line.Speaker)
		if speaker == "" || strings.EqualFold(speaker, "narrator") {
			items = append(items, models.NewNarrationItem(text))
			continue
		}
		if id, ok := speakers[strings.ToLower(speaker)]; ok {
			items = append(items, models.NewTextItem(id, "", text))
			continue
		}
		// Unknown speaker names are kept verbatim; the doc format and
		// the editor both tolerate them.
		items = append(items, models.NewTextItem(speaker, "", text))
	}
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("dialogue result contains only empty lines", nil)
	}
	return items, nil
}

// applyDialogue installs generated lines ahead of the scene's existing
// outcome. Dialogue generation never produces outcome items, so the
// outcome slot stays exactly what the plan put there.
func applyDialogue(scene *models.Scene, lines []models.DialogueItem) {
	outcome, ok := scene.Outcome()
	if !ok {
		outcome = models.NewEndItem()
	}
	scene.Items = append(lines, outcome)
}

func descriptionFallback(scene *models.Scene) []models.DialogueItem {
	if strings.TrimSpace(scene.Description) == "" {
		return nil
	}
	return []models.DialogueItem{models.NewNarrationItem(scene.Description)}
}

// ---- Plan shape validation ----

// validateStoryPlan is the strict half of the pipeline: a plan with
// missing fields or unknown outcome types is rejected outright, because
// the reference repair downstream assumes a well-shaped list.
func validateStoryPlan(plan *StoryPlanResult) error {
	if len(plan.Scenes) == 0 {
		return apperrors.NewValidationError("story plan contains no scenes", nil)
	}
	return validateScenePlans(plan.Scenes)
}

func validateBranchPlan(plan *BranchPlanResult) error {
	if len(plan.Scenes) == 0 {
		return apperrors.NewValidationError("branch plan contains no scenes", nil)
	}
	if err := validateOutcomePlan(plan.Entry, "entry"); err != nil {
		return err
	}
	if err := validateScenePlans(plan.Scenes); err != nil {
		return err
	}
	for i, connection := range plan.Connections {
		if strings.TrimSpace(connection.From) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("connection %d is missing its source scene", i), nil)
		}
		if err := validateOutcomePlan(connection.Outcome, fmt.Sprintf("connection %d", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateScenePlans(scenes []ScenePlan) error {
	seen := make(map[string]bool, len(scenes))
	for i, scene := range scenes {
		id := strings.TrimSpace(scene.ID)
		if id == "" {
			return apperrors.NewValidationError(fmt.Sprintf("scene %d is missing an id", i), nil)
		}
		if seen[id] {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate scene id %q in plan", id), nil)
		}
		seen[id] = true
		if strings.TrimSpace(scene.Name) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("scene %q is missing a name", id), nil)
		}
		if err := validateOutcomePlan(scene.Outcome, fmt.Sprintf("scene %q", id)); err != nil {
			return err
		}
	}
	return nil
}

func validateOutcomePlan(outcome OutcomePlan, where string) error {
	switch outcome.Type {
	case "choice":
		if len(outcome.Options) == 0 {
			return apperrors.NewValidationError(fmt.Sprintf("%s has a choice outcome with no options", where), nil)
		}
		for _, option := range outcome.Options {
			if strings.TrimSpace(option.Text) == "" {
				return apperrors.NewValidationError(fmt.Sprintf("%s has a choice option without text", where), nil)
			}
		}
		return nil
	case "transition", "end":
		return nil
	case "":
		return apperrors.NewValidationError(fmt.Sprintf("%s is missing an outcome type", where), nil)
	default:
		return apperrors.NewValidationError(fmt.Sprintf("%s has unknown outcome type %q", where, outcome.Type), nil)
	}
}

// ---- Plan materialization ----

func outcomePlanToItem(plan OutcomePlan) models.DialogueItem {
	switch plan.Type {
	case "choice":
		options := make([]models.ChoiceOption, len(plan.Options))
		for i, option := range plan.Options {
			options[i] = models.ChoiceOption{
				Text:        strings.TrimSpace(option.Text),
				NextSceneID: strings.TrimSpace(option.Next),
			}
		}
		return models.NewChoiceItem(options...)
	case "transition":
		return models.NewTransitionItem(strings.TrimSpace(plan.Next))
	default:
		return models.NewEndItem()
	}
}

// buildStoryFromPlan runs the plan through the validator, then mints a
// real scene id per plan id and installs the repaired outcomes with
// their targets remapped into minted-id space.
func buildStoryFromPlan(plan *StoryPlanResult) *models.Story {
	name := strings.TrimSpace(plan.Title)
	if name == "" {
		name = "Generated Story"
	}
	story := models.NewStory(utils.MintID("story"), name)

	planned := make([]storygraph.PlannedScene, len(plan.Scenes))
	for i, scene := range plan.Scenes {
		planned[i] = storygraph.PlannedScene{
			ID:          strings.TrimSpace(scene.ID),
			Name:        scene.Name,
			Description: scene.Description,
			Background:  scene.Background,
			Outcome:     outcomePlanToItem(scene.Outcome),
		}
	}
	planned = storygraph.ValidatePlan(planned)

	minted := make(map[string]string, len(planned))
	for _, p := range planned {
		minted[p.ID] = utils.MintID("scene")
	}

	for i, p := range planned {
		scene := models.NewScene(minted[p.ID], p.Name)
		scene.Description = p.Description
		scene.Background = p.Background
		scene.Position = models.Position{X: sceneColumnStep * float64(i), Y: 0}
		scene.Items = []models.DialogueItem{mintTargets(p.Outcome, minted)}
		story.AddScene(scene)
	}
	return story
}

// fragmentFromPlan keeps the plan's temp ids; the splicer mints the
// real ids when the fragment lands in the story.
func fragmentFromPlan(plan *BranchPlanResult) storygraph.Fragment {
	frag := storygraph.Fragment{
		Entry: outcomePlanToItem(plan.Entry),
	}
	for _, planScene := range plan.Scenes {
		scene := models.NewScene(strings.TrimSpace(planScene.ID), planScene.Name)
		scene.Description = planScene.Description
		scene.Background = planScene.Background
		scene.Items = []models.DialogueItem{outcomePlanToItem(planScene.Outcome)}
		frag.Scenes = append(frag.Scenes, storygraph.FragmentScene{
			TempID: scene.ID,
			Scene:  scene,
		})
	}
	for _, connection := range plan.Connections {
		frag.Connections = append(frag.Connections, storygraph.Connection{
			FromID:  strings.TrimSpace(connection.From),
			Outcome: outcomePlanToItem(connection.Outcome),
		})
	}
	return frag
}

func mintTargets(item models.DialogueItem, minted map[string]string) models.DialogueItem {
	switch item.Type {
	case models.ItemTransition:
		if fresh, ok := minted[item.NextSceneID]; ok {
			item.NextSceneID = fresh
		}
	case models.ItemChoice:
		for i := range item.Options {
			if fresh, ok := minted[item.Options[i].NextSceneID]; ok {
				item.Options[i].NextSceneID = fresh
			}
		}
	}
	return item
}

func castFromPlan(plan *StoryPlanResult) []*models.Character {
	cast := make([]*models.Character, 0, len(plan.Characters))
	for _, c := range plan.Characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		character := &models.Character{
			ID:         utils.MintID("char"),
			Name:       name,
			Appearance: c.Appearance,
			Style:      c.Style,
		}
		character.AddSprite(models.SpriteVariant{ID: "default"})
		cast = append(cast, character)
	}
	return cast
}

func planContext(plan *StoryPlanResult) string {
	var sb strings.Builder
	if plan.Title != "" {
		sb.WriteString(plan.Title)
		sb.WriteString(". ")
	}
	if plan.Description != "" {
		sb.WriteString(plan.Description)
		sb.WriteString(" ")
	}
	sb.WriteString("Scenes: ")
	for i, scene := range plan.Scenes {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(scene.Name)
	}
	return sb.String()
}

func speakerIndex(project *models.Project) map[string]string {
	speakers := make(map[string]string, len(project.Characters))
	for _, character := range project.OrderedCharacters() {
		speakers[strings.ToLower(character.Name)] = character.ID
	}
	return speakers
}

func sceneCountForHint(lengthHint string) int {
	switch strings.ToLower(lengthHint) {
	case "short":
		return 4
	case "long":
		return 9
	default:
		return 6
	}
}

// recordUsage writes one usage row for a finished model call. resp may
// be nil when the call failed before a response existed.
func (s *GenerationService) recordUsage(taskID, projectID, kind string, resp *llm.CompletionResponse, start time.Time, callErr error) {
	if s.Stats == nil {
		return
	}

	rec := sqlite.UsageRecord{
		TaskID:     taskID,
		ProjectID:  projectID,
		Kind:       kind,
		Provider:   s.LLM.GetProviderName(),
		Model:      s.LLM.ActiveModel(),
		DurationMS: time.Since(start).Milliseconds(),
		Status:     sqlite.StatusOK,
	}
	if resp != nil {
		rec.PromptTokens = resp.PromptTokens
		rec.OutputTokens = resp.OutputTokens
		rec.TotalTokens = resp.TokensUsed
		if resp.ModelName != "" {
			rec.Model = resp.ModelName
		}
	}
	if callErr != nil {
		rec.Status = sqlite.StatusError
	}

	s.Stats.RecordGeneration(rec)
}
