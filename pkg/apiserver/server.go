// Package apiserver is the fleetd HTTP surface (§6): a gin router exposing
// the stable paths the dashboards, fleetscript CLI, and other fleetd
// replicas call. Grounded on cklxx-elephant.ai's gin+cors service-layer
// shape (the richest full HTTP-service example in the corpus — the
// teacher itself is CLI-only), kept in the teacher's naming/error-handling
// idiom (pkg/util.APIError dispatch, not ad-hoc status codes).
package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetlab/fleetlab/pkg/metrics"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// LockManager is the subset of pkg/lock.Manager the control routes need.
type LockManager interface {
	TakeControl(ctx context.Context, hostName, deviceID, sessionID, userID, treeID string) error
	ReleaseControl(ctx context.Context, hostName, deviceID, sessionID string) error
	Heartbeat(ctx context.Context, hostName, deviceID, sessionID string) error
	Get(ctx context.Context, hostName, deviceID string) (*LeaseView, error)
}

// LeaseView is the read-only lease projection the lock-status route
// returns; it never exposes a session id (§4.7).
type LeaseView struct {
	UserID string
}

// HostProxy is the subset of pkg/hostproxy.Proxy the action/av routes need.
type HostProxy interface {
	ExecuteAction(ctx context.Context, hostName, deviceID, sessionID string, action ActionRequest) (*ActionResult, error)
	ExecuteBatch(ctx context.Context, hostName, deviceID, sessionID string, actions, retryActions []ActionRequest) (*BatchResult, error)
	ExecuteVerification(ctx context.Context, hostName, deviceID, sessionID string, verifications []ActionRequest) (*VerificationBatchResult, error)
	TakeScreenshot(ctx context.Context, hostName, deviceID string) (string, error)
	LatestJSON(ctx context.Context, hostName, deviceID string) (jsonURL string, sequence int, timestamp time.Time, err error)
	ObserveZap(ctx context.Context, hostName, deviceID, sessionID, actionCommand string, keyReleaseTS time.Time) (*ZapEventView, error)
}

// ZapEventView mirrors pkg/zapdetect.ZapEvent's wire shape.
type ZapEventView struct {
	Detected    bool           `json:"detected"`
	Method      string         `json:"method,omitempty"`
	DurationS   float64        `json:"duration_s"`
	ChannelInfo map[string]any `json:"channel_info,omitempty"`
}

// ActionRequest/ActionResult/BatchResult/VerificationBatchResult mirror
// pkg/hostproxy's wire shapes so this package doesn't need to import it
// directly (it depends only on the HostProxy interface above, satisfied by
// a thin adapter in cmd/fleetd).
type ActionRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

type ActionResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type BatchResult struct {
	Success     bool           `json:"success"`
	Results     []ActionResult `json:"results"`
	PassedCount int            `json:"passed_count"`
	TotalCount  int            `json:"total_count"`
}

type VerificationResult struct {
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

type VerificationBatchResult struct {
	Success     bool                  `json:"success"`
	Results     []VerificationResult  `json:"results"`
	PassedCount int                   `json:"passed_count"`
	TotalCount  int                   `json:"total_count"`
}

// TreeStore is the subset of pkg/navtree.GraphStore the navigation routes
// need.
type TreeStore interface {
	GetTreeByUserInterfaceID(uiID string) (*navtree.Tree, error)
	SaveTree(tree navtree.Tree) error
}

// NodeCachePatcher is the subset of pkg/navcache.Cache the incremental
// update-node route needs.
type NodeCachePatcher interface {
	PatchNode(treeID string, node navtree.Node)
}

// PhraseResolver resolves a free-text step description against the graph
// (§3 "Disambiguation mappings").
type PhraseResolver interface {
	ResolvePhrase(team, userinterface, phrase string) (*navtree.Target, error)
}

// ReferenceStore is the subset of pkg/reference.Store the reference routes need.
type ReferenceStore interface {
	List(team, interfaceName string) ([]ReferenceView, error)
	SaveText(team, interfaceName, name string, area ReferenceArea, text, language string) (*ReferenceView, error)
}

// ReferenceArea/ReferenceView mirror pkg/reference's wire shapes.
type ReferenceArea struct {
	X, Y, Width, Height float64
}

type ReferenceView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Translator runs the §6 restart-batch RPC.
type Translator interface {
	RestartBatch(ctx context.Context, hostName string, blocks map[string]any, targetLanguage string) (map[string]any, error)
}

// Pathfinder is the subset of pkg/pathfind.Finder the navigation routes
// need to resolve a single planned hop into the edge/action_set fleetscript
// should send (§4.5), so the Script Executor never has to embed a
// navigation-cache snapshot of its own.
type Pathfinder interface {
	Find(treeID, fromNodeID, toNodeID string) (*PathView, error)
}

// PathView mirrors pkg/pathfind.Path's wire shape. The terminal node's
// verifications ride along so the caller can verify arrival without a
// second tree fetch.
type PathView struct {
	Hops                  []PathHop       `json:"hops"`
	TerminalNode          string          `json:"terminal_node_id"`
	TerminalVerifications []ActionRequest `json:"terminal_verifications,omitempty"`
	PassCondition         string          `json:"pass_condition,omitempty"`
}

// PathHop mirrors pkg/pathfind.Hop's wire shape.
type PathHop struct {
	EdgeID      string           `json:"edge_id"`
	ActionSetID string           `json:"action_set_id"`
	Actions     []ActionRequest  `json:"actions"`
	FinalWaitMS int              `json:"final_wait_ms"`
}

// CommandRegistry is the subset of pkg/cmdregistry.Registry the command
// catalog route needs.
type CommandRegistry interface {
	List(deviceModel string) ([]CommandSpecView, error)
}

// HostRegistry lets a fleethost daemon announce the base URL fleetd
// should use to reach it, so the Host Proxy's resolver stays current as
// hosts start, restart, or move (§4.8).
type HostRegistry interface {
	Register(hostName, baseURL string)
}

// CommandSpecView mirrors pkg/cmdregistry.CommandSpec's wire shape.
type CommandSpecView struct {
	CommandName string   `json:"command_name"`
	Kind        string   `json:"kind"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
	Optional    []string `json:"optional"`
}

// Deps bundles every collaborator the router dispatches to. Each field may
// be nil in tests that only exercise a subset of routes — handlers that
// depend on a nil field return 503 rather than panicking.
type Deps struct {
	Lock       LockManager
	Host       HostProxy
	Trees      TreeStore
	Cache      NodeCachePatcher
	Phrases    PhraseResolver
	References ReferenceStore
	Translator Translator
	Paths      Pathfinder
	Commands   CommandRegistry
	Hosts      HostRegistry
	Metrics    *metrics.Registry
}

// New builds the gin.Engine serving every §6 route over deps.
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	s := &server{deps: deps}

	server := r.Group("/server")
	server.POST("/control/takeControl", s.takeControl)
	server.POST("/control/releaseControl", s.releaseControl)
	server.POST("/control/heartbeat", s.heartbeat)
	server.GET("/lock/status/:host_name/:device_id", s.lockStatus)

	server.POST("/hosts/register", s.registerHost)

	server.POST("/remote/executeCommand", s.executeCommand)
	server.POST("/action/executeBatch", s.executeBatch)
	server.POST("/verification/execute", s.executeVerification)

	server.GET("/navigationTrees/getTreeByUserInterfaceId/:ui_id", s.getTreeByUserInterfaceID)
	server.POST("/navigationTrees/saveTree", s.saveTree)
	server.POST("/navigation/cache/update-node", s.updateNodeCache)
	server.POST("/navigation/resolvePhrase", s.resolvePhrase)
	server.POST("/navigation/findPath", s.findPath)
	server.GET("/commands/list/:device_model", s.listCommands)

	server.POST("/zap/observe", s.zapObserve)

	server.POST("/av/takeScreenshot", s.takeScreenshot)
	server.POST("/av/monitoring/latest-json", s.latestJSON)

	server.POST("/translate/restart-batch", s.restartBatch)

	server.POST("/reference/save", s.saveReference)
	server.GET("/reference/list/:interface_name", s.listReferences)

	server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type server struct {
	deps Deps
}

// requestLogger mirrors the teacher's WithOperation structured-logging
// idiom, scoped to one request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		util.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}

// writeAPIError maps a structured util.APIError (or a plain error) onto
// the §7 {error_type, error, available_commands?, suggestion?} response
// shape with a single dispatch, per DESIGN.md's grounding note.
func writeAPIError(c *gin.Context, status int, err error) {
	if apiErr, ok := err.(*util.APIError); ok {
		c.JSON(status, gin.H{
			"success":            false,
			"error_type":         apiErr.Type,
			"error":              apiErr.Error(),
			"available_commands": apiErr.AvailableCommands,
			"suggestion":         apiErr.Suggestion,
		})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func unavailable(c *gin.Context, component string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": component + " not configured"})
}
