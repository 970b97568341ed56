// Package envoy implements the worker tasks that own the connections to the
// remote detector modules: a command envoy and a status-poll envoy per
// control server, plus a scrape envoy per disk monitor. Envoys communicate
// with the controller exclusively through message channels owned by the
// embassy.
package envoy

import (
	"fmt"

	"github.com/attpc/conductor/internal/domain/daq"
)

// Network layout of the detector subnet. The master trigger lives at a
// fixed reserved host; front-end addresses are derived from the module id.
const (
	addressBase = "192.168.41"

	controlPort = 8083
	monitorPort = 8081

	dataRouterPort   = 46005
	dataExporterPort = 46007

	linkProtocol = "TCP"
)

// ModuleConfig is the deterministic per-module remote configuration. It is
// pure data derived from (id, experiment); two controllers with the same
// inputs produce identical request payloads.
type ModuleConfig struct {
	ID         daq.ModuleID
	Experiment string
	Address    string
	URL        string
}

// NewModuleConfig derives the configuration for one module.
func NewModuleConfig(id daq.ModuleID, experiment string) ModuleConfig {
	address := moduleAddress(id)
	return ModuleConfig{
		ID:         id,
		Experiment: experiment,
		Address:    address,
		URL:        fmt.Sprintf("http://%s:%d", address, controlPort),
	}
}

func moduleAddress(id daq.ModuleID) string {
	if id.IsMaster() {
		return fmt.Sprintf("%s.1", addressBase)
	}
	return fmt.Sprintf("%s.%d", addressBase, 60+int(id))
}

// describeID names the hardware description set for this module.
func (c ModuleConfig) describeID() string {
	if c.ID.IsMaster() {
		return c.Experiment
	}
	return fmt.Sprintf("cobo%d", c.ID)
}

// source names the module as a data sender.
func (c ModuleConfig) source() string {
	if c.ID.IsMaster() {
		return "Mutant[master]"
	}
	return fmt.Sprintf("CoBo[%d]", c.ID)
}

func (c ModuleConfig) dataRouter() string   { return fmt.Sprintf("data%d", c.ID) }
func (c ModuleConfig) dataExporter() string { return fmt.Sprintf("exporter%d", c.ID) }

// configBody renders the configuration id payload carried by
// configure-class requests.
func (c ModuleConfig) configBody() string {
	return fmt.Sprintf(`<configID>
	<ConfigId>
		<SubConfigId type="describe">%s</SubConfigId>
		<SubConfigId type="prepare">%s</SubConfigId>
		<SubConfigId type="configure">%s</SubConfigId>
	</ConfigId>
</configID>`, c.describeID(), c.Experiment, c.Experiment)
}

// dataLinkBody renders the data routing table: one link to the file-dump
// router and one to the export router, both named per module.
func (c ModuleConfig) dataLinkBody() string {
	return fmt.Sprintf(`<table>
	<DataLinkSet>
		<DataLink>
			<DataSender id="%[1]s" />
			<DataRouter ipAddress="%[2]s" name="%[3]s" port="%[4]d" type="%[6]s" />
		</DataLink>
		<DataLink>
			<DataSender id="%[1]s" />
			<DataRouter ipAddress="%[2]s" name="%[5]s" port="%[7]d" type="%[6]s" />
		</DataLink>
	</DataLinkSet>
</table>`, c.source(), c.Address, c.dataRouter(), dataRouterPort, c.dataExporter(), linkProtocol, dataExporterPort)
}

// MonitorConfig is the polling target for one front-end's disk monitor.
type MonitorConfig struct {
	ID      daq.ModuleID
	Address string
	URL     string
}

// NewMonitorConfig derives the monitor endpoint for one front-end.
func NewMonitorConfig(id daq.ModuleID) MonitorConfig {
	address := moduleAddress(id)
	return MonitorConfig{
		ID:      id,
		Address: address,
		URL:     fmt.Sprintf("http://%s:%d/~attpc/surveyor.html", address, monitorPort),
	}
}
