package controlapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kdlbs/agentsupervisor/internal/workflow/yamlspec"
)

// exportWorkflow renders a workflow and its steps/edges as a YAML
// document suitable for checking into a repo and replaying elsewhere.
func (h *Handlers) exportWorkflow(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	wf, ok, err := h.wfReader.GetWorkflow(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "workflow not found"})
		return
	}
	steps, err := h.wfReader.GetSteps(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	edges, err := h.wfReader.GetEdges(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}

	doc, err := yamlspec.Export(wf, steps, edges)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml", []byte(doc))
}

// importWorkflow parses a YAML document from the request body into a new
// workflow, minting fresh ids and persisting it in draft status.
func (h *Handlers) importWorkflow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to read request body: " + err.Error()})
		return
	}

	wf, steps, edges, err := yamlspec.Import(string(body), uuid.NewString)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid workflow document: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.wfWriter.SaveWorkflow(ctx, wf); err != nil {
		respondErr(c, err)
		return
	}
	for _, step := range steps {
		if err := h.wfWriter.SaveStep(ctx, step); err != nil {
			respondErr(c, err)
			return
		}
	}
	for _, edge := range edges {
		if err := h.wfWriter.SaveEdge(ctx, edge); err != nil {
			respondErr(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"workflow_id": wf.ID})
}
