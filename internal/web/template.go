package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
	"github.com/sweeney/irrigator/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"start": status.StartLabel,
	"mins": func(d time.Duration) string {
		return d.Truncate(time.Second).String()
	},
	"stateClass": func(s logic.ScheduleState) string {
		return strings.ToLower(string(s))
	},
	"holders": func(ids []logic.EventID) string {
		if len(ids) == 0 {
			return "-"
		}
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = string(id)
		}
		return strings.Join(parts, ", ")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Irrigator{{if .Config.Site}} ({{.Config.Site}}){{end}}</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.running { color: green; font-weight: bold; }
.scheduled { color: #333; }
.paused { color: orange; }
.finished, .unscheduled { color: #888; }
.open { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Irrigator{{if .Config.Site}} ({{.Config.Site}}){{end}}</h1>

<h2>Events</h2>
{{if .Events}}<table>
<tr><th>ID</th><th>Valve</th><th>Start</th><th>Days</th><th>Duration</th><th>Remaining</th><th>State</th><th>Cycle</th></tr>
{{range .Events}}<tr><td>{{.ID}}{{if .Parallel}} (parallel){{end}}</td><td>{{.Valve}}</td><td>{{start .Hour .Minute}}</td><td>{{.Days}}</td><td>{{mins .Duration}}</td><td>{{mins .Remaining}}</td><td class="{{stateClass .State}}">{{.State}}</td><td>{{.Cycle}}</td></tr>
{{end}}</table>{{else}}<p>No events loaded.</p>{{end}}

<h2>Valves</h2>
<table>
<tr><th>Valve</th><th>State</th><th>Holders</th></tr>
{{range .Valves}}<tr><td>{{.Valve}}</td><td{{if .Open}} class="open"{{end}}>{{if .Open}}open{{else}}closed{{end}}</td><td>{{holders .Holders}}</td></tr>
{{end}}</table>
<p>Relay write failures: <span{{if .RelayFailures}} class="disconnected"{{end}}>{{.RelayFailures}}</span></p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Queued</th><td>{{.MQTTQueued}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Armed</th><td>{{.Counts.Armed}}</td></tr>
<tr><th>Slices</th><td>{{.Counts.SliceStarts}} started, {{.Counts.SliceEnds}} ended</td></tr>
<tr><th>Soaks</th><td>{{.Counts.Soaks}}</td></tr>
<tr><th>Finished</th><td>{{.Counts.Finished}}</td></tr>
<tr><th>Skipped</th><td>{{.Counts.Skipped}}</td></tr>
<tr><th>Grants / denials</th><td>{{.Stats.Grants}} / {{.Stats.Denials}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Schedule dir</th><td>{{.Config.ScheduleDir}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render: %v", err)
	}
}
