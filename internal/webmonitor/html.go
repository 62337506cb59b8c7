package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Face Overlay Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: sans-serif; background: #111; color: #ddd; }
        .app { display: grid; grid-template-columns: minmax(0, 3fr) minmax(240px, 1fr); gap: 16px; padding: 16px; }
        .stage { position: relative; background: #000; }
        .stage img { display: block; width: 100%; height: auto; }
        .stage canvas { position: absolute; top: 0; left: 0; width: 100%; height: 100%; pointer-events: none; }
        .panel { background: #1c1c1c; border-radius: 6px; padding: 12px; margin-bottom: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 15px; }
        .row { display: flex; justify-content: space-between; font-size: 13px; padding: 2px 0; }
        .muted { color: #888; font-size: 12px; }
        .gallery { display: grid; grid-template-columns: repeat(auto-fill, minmax(64px, 1fr)); gap: 6px; }
        .gallery figure { margin: 0; text-align: center; font-size: 11px; }
        .gallery img { width: 64px; height: 64px; object-fit: cover; border-radius: 4px; }
        input, button { font-size: 13px; }
    </style>
</head>
<body>
<div class="app">
    <div>
        <div class="stage" id="stage">
            <img id="stream" src="/stream?raw=1" alt="Live camera">
            <canvas id="overlay"></canvas>
        </div>
        <p class="muted" id="overlay-info">Waiting for overlay...</p>
    </div>
    <div>
        <div class="panel">
            <h2>Status</h2>
            <div class="row"><span>Backend</span><span id="backend">--</span></div>
            <div class="row"><span>Known faces</span><span id="known">--</span></div>
            <div class="row"><span>Session</span><span id="session">--</span></div>
            <div class="row"><span>Capture</span><span id="capture">--</span></div>
            <div class="row"><span>Faces</span><span id="faces">--</span></div>
            <div class="row"><span>Viewers</span><span id="viewers">--</span></div>
        </div>
        <div class="panel">
            <h2>Enroll</h2>
            <form id="enroll">
                <input name="name" placeholder="name" required>
                <button type="submit">Add current face</button>
            </form>
            <button id="reload" type="button" style="margin-top:6px;">Reload known faces</button>
            <p class="muted" id="enroll-result"></p>
        </div>
        <div class="panel">
            <h2>Profiles</h2>
            <div class="gallery" id="gallery"><span class="muted">--</span></div>
        </div>
    </div>
</div>
<script>
(function () {
    const stage = document.getElementById('stage');
    const canvas = document.getElementById('overlay');
    const ctx = canvas.getContext('2d');
    const info = document.getElementById('overlay-info');
    let ws = null;
    let last = null;

    function reportSize() {
        const w = Math.round(stage.clientWidth);
        const h = Math.round(stage.clientHeight);
        if (!w || !h) return;
        canvas.width = w;
        canvas.height = h;
        if (ws && ws.readyState === WebSocket.OPEN) {
            ws.send(JSON.stringify({type: 'resize', width: w, height: h}));
        }
        if (last) paint(last);
    }

    function paint(ev) {
        ctx.clearRect(0, 0, canvas.width, canvas.height);
        const sx = ev.display.width ? canvas.width / ev.display.width : 1;
        const sy = ev.display.height ? canvas.height / ev.display.height : 1;
        ctx.font = '13px monospace';
        ctx.textBaseline = 'top';
        for (const a of ev.annotations) {
            ctx.strokeStyle = 'lime';
            ctx.lineWidth = 3;
            ctx.strokeRect(a.rect.x * sx, a.rect.y * sy, a.rect.w * sx, a.rect.h * sy);
            ctx.fillStyle = 'lime';
            ctx.fillRect(a.label_rect.x * sx, a.label_rect.y * sy, a.label_rect.w * sx, a.label_rect.h * sy);
            ctx.fillStyle = 'black';
            ctx.fillText(a.label, a.label_rect.x * sx + 4, a.label_rect.y * sy + 2);
        }
        info.textContent = '#' + ev.seq + ': ' + ev.annotations.length + ' face(s), capture ' +
            ev.capture.width + 'x' + ev.capture.height;
    }

    function connect() {
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        ws = new WebSocket(proto + location.host + '/ws');
        ws.onopen = reportSize;
        ws.onmessage = (m) => { last = JSON.parse(m.data); paint(last); };
        ws.onclose = () => setTimeout(connect, 2000);
    }

    new ResizeObserver(reportSize).observe(stage);
    connect();

    function text(id, v) { document.getElementById(id).textContent = v; }
    const status = new EventSource('/api/status/stream');
    status.onmessage = (m) => {
        const s = JSON.parse(m.data);
        text('backend', s.backend.status);
        text('known', s.backend.known_faces_count);
        if (s.session) {
            text('session', s.session.state);
            text('capture', s.session.capture.width + 'x' + s.session.capture.height);
            text('faces', s.session.last_faces);
        }
        text('viewers', s.viewers.mjpeg + ' mjpeg / ' + s.viewers.events + ' events / ' + s.viewers.webrtc + ' webrtc');
    };

    function loadProfiles() {
        fetch('/api/profiles').then((r) => r.ok ? r.json() : null).then((p) => {
            const g = document.getElementById('gallery');
            if (!p) { g.innerHTML = '<span class="muted">unavailable</span>'; return; }
            g.innerHTML = '';
            for (const prof of p.profiles) {
                const f = document.createElement('figure');
                const img = document.createElement('img');
                img.src = prof.url;
                img.alt = prof.name;
                const cap = document.createElement('figcaption');
                cap.textContent = prof.name;
                f.append(img, cap);
                g.append(f);
            }
        });
    }
    loadProfiles();

    const result = document.getElementById('enroll-result');
    document.getElementById('enroll').onsubmit = (e) => {
        e.preventDefault();
        fetch('/api/faces', {method: 'POST', body: new URLSearchParams(new FormData(e.target))})
            .then((r) => r.json()).then((j) => {
                result.textContent = j.error || ('added ' + j.name);
                loadProfiles();
            });
    };
    document.getElementById('reload').onclick = () => {
        fetch('/api/faces/reload', {method: 'POST'}).then((r) => r.json()).then((j) => {
            result.textContent = j.error || ('known faces: ' + j.count);
        });
    };
})();
</script>
</body>
</html>
`
